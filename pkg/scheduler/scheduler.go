// Package scheduler implements spec.md §4.7: plugin selection, bounded
// per-plugin concurrency, cross-plugin host-format re-entry without
// deadlock, cancellation, and aggregated batch results. The worker-pool
// shape generalizes the teacher's pkg/processing.ConcurrentProcessor; the
// deadlock-avoidance mechanism is pool.go, ported from dprint's
// crates/dprint/src/plugins/pool.rs.
package scheduler

import (
	"context"
	"crypto/sha256"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dformat-org/dformat/pkg/dgerrors"
	"github.com/dformat-org/dformat/pkg/dlog"
	"github.com/dformat-org/dformat/pkg/fmtconfig"
	"github.com/dformat-org/dformat/pkg/plugin"
)

// BatchOptions controls one FormatBatch run (SPEC_FULL.md §3 addition).
type BatchOptions struct {
	// MaxStableIterations bounds the stable-format fixed-point loop: a
	// plugin is re-run on its own output until two consecutive passes
	// digest identically, or this many passes have run (whichever first),
	// guarding against a misbehaving plugin that never converges.
	MaxStableIterations int
	// IncrementalDigests, if non-nil, skips formatting any file whose
	// current content digest matches the stored one from a prior run;
	// entries are updated in place as files are processed. The scheduler
	// does not track which plugins produced a digest; the caller clears
	// the map whenever the resolved plugin set changes.
	IncrementalDigests map[string][]byte
	// CheckMode, when true, does not ask the caller to persist Changed
	// files; BatchResult.Diffs carries the formatted content instead.
	CheckMode bool
	// Concurrency bounds how many files are dispatched to plugins at
	// once; 0 means no limit (every matched file is dispatched at once).
	Concurrency int
	// PoolCapacity is not read by FormatBatch: the per-plugin instance cap
	// is the poolCapacity passed to New (default 2).
	PoolCapacity int64
}

// FileResult is one file's outcome within a BatchResult.
type FileResult struct {
	Path    string
	Changed bool
	Text    []byte // formatted text if Changed (or CheckMode diff target)
	Err     error
}

// BatchResult aggregates a FormatBatch run — spec.md §4.7's
// "{formatted_count, unchanged_count, errored, diff_if_check_mode}",
// generalized from the teacher's ConcurrentResult/TaskResult shapes.
type BatchResult struct {
	FormattedCount int
	UnchangedCount int
	Errored        []FileResult
	Diffs          map[string][]byte // path -> formatted text, only if CheckMode
}

// FileSource supplies a file's current text; callers provide this rather
// than scheduler reading the filesystem itself (file traversal is out of
// scope per spec.md §1).
type FileSource func(ctx context.Context, path string) ([]byte, error)

// Scheduler drives FormatBatch over a resolved FormatConfig.
type Scheduler struct {
	cfg     *fmtconfig.FormatConfig
	pools   *pools
	log     dlog.Logger
	configID uint32

	mu sync.Mutex
}

// New builds a Scheduler. factory creates plugin.Adapter instances on
// demand (wired by cmd/dformat to pkg/resolver + pkg/wasmplugin/procplugin).
func New(cfg *fmtconfig.FormatConfig, factory Factory, poolCapacity int64, log dlog.Logger) *Scheduler {
	if log == nil {
		log = dlog.Noop
	}
	return &Scheduler{cfg: cfg, pools: newPools(factory, poolCapacity), log: log, configID: cfg.NextConfigID()}
}

// Close tears down every pooled instance.
func (s *Scheduler) Close(ctx context.Context) {
	s.pools.closeAll(ctx)
}

// FormatBatch formats every path in paths concurrently, matching each to
// a plugin via pkg/fmtconfig, and aggregates the result.
func (s *Scheduler) FormatBatch(ctx context.Context, paths []string, read FileSource, opts BatchOptions) (BatchResult, error) {
	if opts.MaxStableIterations <= 0 {
		opts.MaxStableIterations = 10
	}

	var mu sync.Mutex
	result := BatchResult{}
	if opts.CheckMode {
		result.Diffs = map[string][]byte{}
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for _, path := range paths {
		path := path
		if fmtconfig.IsExcluded(s.cfg, path) {
			continue
		}
		pc, ok := fmtconfig.MatchPlugin(s.cfg, path)
		if !ok {
			continue
		}
		g.Go(func() error {
			fr := s.formatOne(gctx, path, pc, read, opts)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case fr.Err != nil:
				if dgerrors.IsCancelled(fr.Err) {
					return fr.Err
				}
				result.Errored = append(result.Errored, fr)
				return nil
			case fr.Changed:
				result.FormattedCount++
				if opts.CheckMode {
					result.Diffs[path] = fr.Text
				}
			default:
				result.UnchangedCount++
			}
			return nil
		})
	}

	err := g.Wait()
	return result, err
}

func (s *Scheduler) formatOne(ctx context.Context, path string, pc *fmtconfig.PluginConfig, read FileSource, opts BatchOptions) FileResult {
	text, err := read(ctx, path)
	if err != nil {
		return FileResult{Path: path, Err: dgerrors.Wrap(dgerrors.Recoverable, "read", "failed to read file", err).WithPath(path)}
	}

	if digest, ok := opts.IncrementalDigests[path]; ok {
		if sameDigest(digest, text) {
			return FileResult{Path: path, Changed: false, Text: text}
		}
	}

	inst, err := s.pools.acquireTopLevel(ctx, pc.Key)
	if err != nil {
		return FileResult{Path: path, Err: err}
	}
	defer func() {
		s.pools.releaseTopLevel(pc.Key, inst)
		s.pools.releaseParent(ctx, pc.Key)
	}()

	if err := inst.RegisterConfig(ctx, s.configID, s.cfg.GlobalConfig, pc.Config); err != nil {
		return FileResult{Path: path, Err: err}
	}

	hostFormat := s.makeHostFormat(ctx, pc.Key, opts)

	current := text
	changed := false
	var lastDigest []byte
	for pass := 0; pass < opts.MaxStableIterations; pass++ {
		fr, err := inst.Format(ctx, plugin.FormatRequest{FilePath: path, FileText: current}, hostFormat)
		if err != nil {
			return FileResult{Path: path, Err: err}
		}
		if !fr.Changed {
			break
		}
		changed = true
		digest := sha256Digest(fr.Text)
		current = fr.Text
		if lastDigest != nil && sameDigest(lastDigest, current) {
			// Fixed point reached: this pass reproduced the prior pass's
			// output even though the plugin still reported a change from
			// its immediate input (oscillation guard).
			break
		}
		lastDigest = digest
	}

	if opts.IncrementalDigests != nil {
		opts.IncrementalDigests[path] = sha256Digest(current)
	}
	return FileResult{Path: path, Changed: changed, Text: current}
}

// makeHostFormat builds the HostFormatFunc a plugin's host_format/
// RespHostFormat re-entry calls: it matches the sub-region's path to
// another plugin and borrows an instance via the pluginsForPlugins
// side-table instead of that plugin's normal semaphore, avoiding the
// deadlock spec.md §4.7 describes (see pool.go).
func (s *Scheduler) makeHostFormat(ctx context.Context, parentKey string, opts BatchOptions) plugin.HostFormatFunc {
	return func(cbCtx context.Context, filePath string, fileText []byte, overrideConfig []byte) (plugin.FormatResult, error) {
		subPC, ok := fmtconfig.MatchPlugin(s.cfg, filePath)
		if !ok {
			return plugin.FormatResult{Changed: false, Text: fileText}, nil
		}
		subInst, err := s.pools.acquireForPlugin(cbCtx, parentKey, subPC.Key)
		if err != nil {
			return plugin.FormatResult{}, err
		}
		defer s.pools.releaseForPlugin(parentKey, subPC.Key, subInst)

		cfg := overrideConfig
		if len(cfg) == 0 {
			cfg = subPC.Config
		}
		if err := subInst.RegisterConfig(cbCtx, s.configID, s.cfg.GlobalConfig, cfg); err != nil {
			return plugin.FormatResult{}, err
		}
		return subInst.Format(cbCtx, plugin.FormatRequest{FilePath: filePath, FileText: fileText}, s.makeHostFormat(cbCtx, subPC.Key, opts))
	}
}

func sha256Digest(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func sameDigest(digest []byte, content []byte) bool {
	got := sha256Digest(content)
	if len(got) != len(digest) {
		return false
	}
	for i := range got {
		if got[i] != digest[i] {
			return false
		}
	}
	return true
}
