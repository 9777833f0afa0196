// Package plugin defines the uniform capability surface (spec.md §4.6)
// that pkg/scheduler drives regardless of whether a plugin is backed by
// pkg/wasmplugin or pkg/procplugin, plus the instance lifecycle state
// machine both bridges must honor.
package plugin

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dformat-org/dformat/pkg/dgerrors"
)

// Kind distinguishes which bridge backs an Adapter.
type Kind int

const (
	KindWasm Kind = iota
	KindProcess
)

// Info mirrors spec.md §3's PluginInfo.
type Info struct {
	Name            string
	Version         string
	ConfigKey       string
	FileExtensions  []string
	FileNames       []string
	HelpURL         string
	ConfigSchemaURL string
	UpdateURL       string
}

// FormatRequest/FormatResult mirror spec.md §3.
type FormatRequest struct {
	FilePath       string
	FileText       []byte
	Range          *ByteRange
	OverrideConfig []byte
}

type ByteRange struct{ Start, End uint32 }

type FormatResult struct {
	Changed bool
	Text    []byte
}

// HostFormatFunc is supplied by pkg/scheduler and invoked by a bridge when
// a plugin asks the host to re-entrantly format a sub-region through
// another plugin (spec.md §4.3 kind 11 / §4.7 deadlock-avoidance path).
type HostFormatFunc func(ctx context.Context, filePath string, fileText []byte, overrideConfig []byte) (FormatResult, error)

// State is the instance lifecycle (spec.md §4.6): an instance starts
// Fresh, becomes ConfigPushed once RegisterConfig succeeds, cycles
// ConfigPushed<->Formatting<->Idle across calls, and is permanently
// Dropped on any Critical error.
type State int32

const (
	StateFresh State = iota
	StateConfigPushed
	StateFormatting
	StateIdle
	StateDropped
)

// Adapter is the uniform surface pkg/scheduler drives. Implementations:
// pkg/wasmplugin.Instance and pkg/procplugin.Instance.
type Adapter interface {
	Kind() Kind
	Name() string

	PluginInfo(ctx context.Context) (Info, error)
	LicenseText(ctx context.Context) (string, error)

	RegisterConfig(ctx context.Context, configID uint32, globalConfig, pluginConfig []byte) error
	ReleaseConfig(ctx context.Context, configID uint32) error
	ConfigDiagnostics(ctx context.Context, configID uint32) ([]dgerrors.Diagnostic, error)
	ResolvedConfig(ctx context.Context, configID uint32) ([]byte, error)

	Format(ctx context.Context, req FormatRequest, hostFormat HostFormatFunc) (FormatResult, error)

	// State reports the current lifecycle state (atomic — bridges update
	// it from whichever goroutine completes a call).
	State() State

	// Close tears the instance down; idempotent.
	Close(ctx context.Context) error
}

// LifecycleState is an embeddable atomic state holder bridges can compose
// into their Instance structs instead of hand-rolling one each.
type LifecycleState struct {
	v int32
}

func (s *LifecycleState) Get() State { return State(atomic.LoadInt32(&s.v)) }
func (s *LifecycleState) Set(v State) { atomic.StoreInt32(&s.v, int32(v)) }

// MarkDropped transitions unconditionally to Dropped; used whenever a
// bridge sees a Critical dgerrors.Kind.
func (s *LifecycleState) MarkDropped() { s.Set(StateDropped) }

// Caches bundles the adapter-level resolved-config and plugin-info LRU
// caches shared across instances of the same plugin, keyed by config id /
// plugin name respectively (DOMAIN STACK: golang-lru/v2).
type Caches struct {
	ResolvedConfig *lru.Cache[uint32, []byte]
	PluginInfo     *lru.Cache[string, Info]
}

func NewCaches(size int) (*Caches, error) {
	rc, err := lru.New[uint32, []byte](size)
	if err != nil {
		return nil, err
	}
	pi, err := lru.New[string, Info](size)
	if err != nil {
		return nil, err
	}
	return &Caches{ResolvedConfig: rc, PluginInfo: pi}, nil
}
