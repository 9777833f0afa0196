// Command dformat is the CLI front end: cobra-based subcommands wiring
// pkg/fmtconfig, pkg/resolver, pkg/wasmplugin/pkg/procplugin, and
// pkg/scheduler into a runnable tool, following the teacher's root
// main.go shape (cobra root command, ldflags-populated version vars,
// global flag vars) generalized from a backup tool to a formatter.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dformat-org/dformat/internal/editorproto"
	"github.com/dformat-org/dformat/pkg/dlog"
	"github.com/dformat-org/dformat/pkg/scheduler"
)

// version/date/commit are set at build time via ldflags, as in the
// teacher's main.go.
var (
	version = "dev"
	date    = "unknown"
	commit  = "unknown"
)

var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagCheck      bool
	flagIncludes   []string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dformat",
		Short: "dformat formats source files through sandboxed formatter plugins",
		Long: `dformat loads a project configuration, resolves and pools formatter
plugins distributed as WebAssembly modules or out-of-process executables,
fans files out to them in parallel, and reports aggregated results.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "dformat.json", "path to the format configuration file")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit machine-readable JSON output")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(
		newFmtCmd(),
		newCheckCmd(),
		newConfigCmd(),
		newOutputFilePathsCmd(),
		newOutputResolvedConfigCmd(),
		newOutputFormatTimesCmd(),
		newClearCacheCmd(),
		newLicenseCmd(),
		newEditorInfoCmd(),
		newEditorServiceCmd(),
		newUpgradeCmd(),
		newVersionCmd(),
	)
	return root
}

func newLogger() dlog.Logger {
	if flagVerbose {
		return dlog.New(os.Stderr, flagJSON)
	}
	return dlog.Noop
}

func newFmtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fmt [paths...]",
		Short: "format files in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(cmd.Context(), args, false)
		},
	}
	return cmd
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "check whether files are formatted, without writing changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(cmd.Context(), args, true)
		},
	}
	return cmd
}

func runFormat(ctx context.Context, args []string, checkOnly bool) error {
	env, err := loadEnvironment(flagConfigPath, newLogger())
	if err != nil {
		return err
	}
	defer env.Scheduler.Close(ctx)

	paths, err := expandPaths(args)
	if err != nil {
		return err
	}

	read := func(ctx context.Context, path string) ([]byte, error) { return os.ReadFile(path) }
	result, err := env.Scheduler.FormatBatch(ctx, paths, read, scheduler.BatchOptions{CheckMode: true})
	if err != nil {
		return err
	}

	if checkOnly {
		for path := range result.Diffs {
			fmt.Println(path)
		}
		if len(result.Diffs) > 0 {
			os.Exit(1)
		}
		return nil
	}

	for path, text := range result.Diffs {
		if err := os.WriteFile(path, text, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	fmt.Printf("formatted %d, unchanged %d, errors %d\n", result.FormattedCount, result.UnchangedCount, len(result.Errored))
	for _, e := range result.Errored {
		fmt.Fprintf(os.Stderr, "%s: %v\n", e.Path, e.Err)
	}
	if len(result.Errored) > 0 {
		os.Exit(1)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "manage the dformat configuration file"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "write a starter dformat.json",
			RunE: func(cmd *cobra.Command, args []string) error {
				return writeStarterConfig(flagConfigPath)
			},
		},
		&cobra.Command{
			Use:   "update",
			Short: "re-fetch plugin schemas referenced by the config (no-op: download is out of scope)",
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Println("config update: plugin download/caching is handled by an external resolver; nothing to do")
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <plugin-key> <path>",
			Short: "register a local plugin path under a key",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return addPluginPath(flagConfigPath, args[0], args[1])
			},
		},
	)
	return cmd
}

func newOutputFilePathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "output-file-paths [paths...]",
		Short: "list the files that would be formatted",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func newOutputResolvedConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "output-resolved-config",
		Short: "print the merged FormatConfig as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(flagConfigPath, newLogger())
			if err != nil {
				return err
			}
			defer env.Scheduler.Close(cmd.Context())
			data, err := env.ResolvedConfigJSON()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newOutputFormatTimesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "output-format-times [paths...]",
		Short: "format files and print per-file timing",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(flagConfigPath, newLogger())
			if err != nil {
				return err
			}
			defer env.Scheduler.Close(cmd.Context())
			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			return env.FormatWithTimes(cmd.Context(), paths)
		},
	}
}

func newClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "drop the in-process resolved-config/plugin-info caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("cache cleared (in-process caches only; no on-disk cache is managed by dformat)")
			return nil
		},
	}
}

func newLicenseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "license",
		Short: "print dformat's license and every loaded plugin's license text",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(flagConfigPath, newLogger())
			if err != nil {
				return err
			}
			defer env.Scheduler.Close(cmd.Context())
			return env.PrintLicenses(cmd.Context())
		},
	}
}

func newEditorInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "editor-info",
		Short: "print plugin info for editor integrations, as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(flagConfigPath, newLogger())
			if err != nil {
				return err
			}
			defer env.Scheduler.Close(cmd.Context())
			data, err := env.PluginInfoJSON(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newEditorServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "editor-service",
		Short: "run the long-lived stdin/stdout protocol for editor integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(flagConfigPath, newLogger())
			if err != nil {
				return err
			}
			defer env.Scheduler.Close(cmd.Context())
			srv := editorproto.NewServer(env.Scheduler, os.Stdin, os.Stdout)
			return srv.Serve(cmd.Context())
		},
	}
}

func newUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "self-upgrade (out of scope: delegates to an external installer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("upgrade: self-upgrade is an external collaborator concern, not implemented by dformat's core")
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dformat %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// expandPaths resolves CLI path arguments to a flat file list. Directory
// traversal/globbing is the ambient CLI concern the spec keeps out of
// core scope; this is a minimal walk, not the scheduler's business.
func expandPaths(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	var out []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, a)
			continue
		}
		err = filepath.Walk(a, func(path string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			out = append(out, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
