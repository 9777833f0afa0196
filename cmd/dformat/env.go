package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/dformat-org/dformat/pkg/dgerrors"
	"github.com/dformat-org/dformat/pkg/dlog"
	"github.com/dformat-org/dformat/pkg/fmtconfig"
	"github.com/dformat-org/dformat/pkg/plugin"
	"github.com/dformat-org/dformat/pkg/procplugin"
	"github.com/dformat-org/dformat/pkg/resolver"
	"github.com/dformat-org/dformat/pkg/scheduler"
	"github.com/dformat-org/dformat/pkg/wasmplugin"
)

// projectConfig is the on-disk shape of a dformat config file. It carries
// the plugin path each PluginConfig.Key resolves to, which fmtconfig's
// in-memory FormatConfig deliberately omits (that belongs to pkg/resolver,
// not the merge/match domain).
type projectConfig struct {
	GlobalConfig json.RawMessage          `json:"globalConfig" yaml:"globalConfig" toml:"globalConfig"`
	Excludes     []string                 `json:"excludes" yaml:"excludes" toml:"excludes"`
	Plugins      map[string]pluginEntry   `json:"plugins" yaml:"plugins" toml:"plugins"`
}

type pluginEntry struct {
	Path         string          `json:"path" yaml:"path" toml:"path"`
	Associations []string        `json:"associations" yaml:"associations" toml:"associations"`
	Config       json.RawMessage `json:"config" yaml:"config" toml:"config"`
}

// environment wires a loaded FormatConfig to a running Scheduler, the
// plugin path resolver and a reusable logger — the per-invocation context
// every subcommand but `version`/`config init`/`completions` needs.
type environment struct {
	Config    *fmtconfig.FormatConfig
	Scheduler *scheduler.Scheduler
	Resolver  *resolver.FilePath
	Log       dlog.Logger
}

func loadEnvironment(path string, log dlog.Logger) (*environment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dgerrors.Wrap(dgerrors.Configuration, "load-config", "reading config file", err).WithPath(path)
	}

	var pc projectConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &pc)
	case ".toml":
		err = toml.Unmarshal(raw, &pc)
	default:
		err = json.Unmarshal(raw, &pc)
	}
	if err != nil {
		return nil, dgerrors.Wrap(dgerrors.Configuration, "load-config", "parsing config file", err).WithPath(path)
	}

	cfg := &fmtconfig.FormatConfig{GlobalConfig: pc.GlobalConfig, Excludes: pc.Excludes}
	fp := resolver.NewFilePath()
	for key, entry := range pc.Plugins {
		kind := plugin.KindProcess
		if strings.HasSuffix(strings.ToLower(entry.Path), ".wasm") {
			kind = plugin.KindWasm
		}
		fp.Register(key, entry.Path, kind)
		cfg.Plugins = append(cfg.Plugins, fmtconfig.PluginConfig{
			Key:          key,
			Associations: entry.Associations,
			Config:       entry.Config,
		})
	}

	factory := func(ctx context.Context, key string) (plugin.Adapter, error) {
		return instantiatePlugin(ctx, fp, key, log)
	}
	sched := scheduler.New(cfg, factory, 2, log)
	return &environment{Config: cfg, Scheduler: sched, Resolver: fp, Log: log}, nil
}

func instantiatePlugin(ctx context.Context, fp *resolver.FilePath, key string, log dlog.Logger) (plugin.Adapter, error) {
	execPath, kind, ok := fp.Path(key)
	if !ok {
		return nil, dgerrors.New(dgerrors.Configuration, "resolve-plugin", "no plugin registered for key").WithPlugin(key)
	}
	switch kind {
	case plugin.KindWasm:
		data, _, err := fp.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		return wasmplugin.New(ctx, key, data)
	default:
		return procplugin.Spawn(ctx, key, execPath, nil, log)
	}
}

func writeStarterConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config init: %s already exists", path)
	}
	starter := projectConfig{
		GlobalConfig: json.RawMessage(`{"lineWidth":120,"indentWidth":2,"useTabs":false}`),
		Excludes:     []string{"**/node_modules/**", "**/.git/**"},
		Plugins:      map[string]pluginEntry{},
	}
	data, err := json.MarshalIndent(starter, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func addPluginPath(configPath, key, pluginBinaryPath string) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return dgerrors.Wrap(dgerrors.Configuration, "config-add", "reading config file", err).WithPath(configPath)
	}
	var pc projectConfig
	if err := json.Unmarshal(raw, &pc); err != nil {
		return dgerrors.Wrap(dgerrors.Configuration, "config-add", "parsing config file", err).WithPath(configPath)
	}
	if pc.Plugins == nil {
		pc.Plugins = map[string]pluginEntry{}
	}
	pc.Plugins[key] = pluginEntry{Path: pluginBinaryPath, Associations: pc.Plugins[key].Associations, Config: pc.Plugins[key].Config}
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0o644)
}

func (e *environment) ResolvedConfigJSON() ([]byte, error) {
	return json.MarshalIndent(e.Config, "", "  ")
}

func (e *environment) PluginInfoJSON(ctx context.Context) ([]byte, error) {
	type infoEntry struct {
		Key  string      `json:"key"`
		Info plugin.Info `json:"info"`
	}
	var out []infoEntry
	for _, pc := range e.Config.Plugins {
		inst, err := instantiatePlugin(ctx, e.Resolver, pc.Key, e.Log)
		if err != nil {
			return nil, err
		}
		info, err := inst.PluginInfo(ctx)
		_ = inst.Close(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, infoEntry{Key: pc.Key, Info: info})
	}
	return json.MarshalIndent(out, "", "  ")
}

func (e *environment) PrintLicenses(ctx context.Context) error {
	fmt.Println("dformat is distributed under its own project license.")
	for _, pc := range e.Config.Plugins {
		inst, err := instantiatePlugin(ctx, e.Resolver, pc.Key, e.Log)
		if err != nil {
			return err
		}
		text, err := inst.LicenseText(ctx)
		_ = inst.Close(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\n--- %s ---\n%s\n", pc.Key, text)
	}
	return nil
}

func (e *environment) FormatWithTimes(ctx context.Context, paths []string) error {
	read := func(ctx context.Context, path string) ([]byte, error) { return os.ReadFile(path) }
	for _, p := range paths {
		if !hasMatchingPlugin(e.Config, p) {
			continue
		}
		start := time.Now()
		result, err := e.Scheduler.FormatBatch(ctx, []string{p}, read, scheduler.BatchOptions{CheckMode: true})
		elapsed := time.Since(start)
		if err != nil {
			return err
		}
		if len(result.Errored) > 0 {
			fmt.Printf("%s: error (%s): %v\n", p, elapsed, result.Errored[0].Err)
			continue
		}
		fmt.Printf("%s: %s\n", p, elapsed)
	}
	return nil
}

func hasMatchingPlugin(cfg *fmtconfig.FormatConfig, path string) bool {
	_, ok := fmtconfig.MatchPlugin(cfg, path)
	return ok
}
