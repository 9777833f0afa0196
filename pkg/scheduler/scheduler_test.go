package scheduler

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/dformat-org/dformat/pkg/dgerrors"
	"github.com/dformat-org/dformat/pkg/fmtconfig"
	"github.com/dformat-org/dformat/pkg/plugin"
)

// fakeAdapter is an in-memory plugin.Adapter used to exercise the
// scheduler/pool mechanics without a real WASM or process bridge.
type fakeAdapter struct {
	name string
	plugin.LifecycleState
	mu        sync.Mutex
	formatted int
	transform func(path string, text []byte, host plugin.HostFormatFunc) (plugin.FormatResult, error)
}

func (f *fakeAdapter) Kind() plugin.Kind { return plugin.KindWasm }
func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) PluginInfo(ctx context.Context) (plugin.Info, error) {
	return plugin.Info{Name: f.name}, nil
}
func (f *fakeAdapter) LicenseText(ctx context.Context) (string, error) { return "MIT", nil }
func (f *fakeAdapter) RegisterConfig(ctx context.Context, configID uint32, g, p []byte) error {
	return nil
}
func (f *fakeAdapter) ReleaseConfig(ctx context.Context, configID uint32) error { return nil }
func (f *fakeAdapter) ConfigDiagnostics(ctx context.Context, configID uint32) ([]dgerrors.Diagnostic, error) {
	return nil, nil
}
func (f *fakeAdapter) ResolvedConfig(ctx context.Context, configID uint32) ([]byte, error) {
	return nil, nil
}
func (f *fakeAdapter) Format(ctx context.Context, req plugin.FormatRequest, hf plugin.HostFormatFunc) (plugin.FormatResult, error) {
	f.mu.Lock()
	f.formatted++
	f.mu.Unlock()
	return f.transform(req.FilePath, req.FileText, hf)
}
func (f *fakeAdapter) State() plugin.State             { return f.Get() }
func (f *fakeAdapter) Close(ctx context.Context) error { f.MarkDropped(); return nil }

func upperTransform(path string, text []byte, hf plugin.HostFormatFunc) (plugin.FormatResult, error) {
	upper := bytes.ToUpper(text)
	if bytes.Equal(upper, text) {
		return plugin.FormatResult{Changed: false, Text: text}, nil
	}
	return plugin.FormatResult{Changed: true, Text: upper}, nil
}

func testConfig() *fmtconfig.FormatConfig {
	return &fmtconfig.FormatConfig{
		Plugins: []fmtconfig.PluginConfig{
			{Key: "upper", Associations: []string{"**/*.txt"}},
		},
	}
}

func newTestScheduler(t *testing.T) *Scheduler {
	factory := func(ctx context.Context, key string) (plugin.Adapter, error) {
		return &fakeAdapter{name: key, transform: upperTransform}, nil
	}
	return New(testConfig(), factory, 2, nil)
}

func TestFormatBatchBasic(t *testing.T) {
	sched := newTestScheduler(t)
	defer sched.Close(context.Background())

	files := map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": []byte("WORLD"),
	}
	read := func(ctx context.Context, path string) ([]byte, error) { return files[path], nil }

	result, err := sched.FormatBatch(context.Background(), []string{"a.txt", "b.txt"}, read, BatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.FormattedCount != 1 || result.UnchangedCount != 1 {
		t.Fatalf("got %+v", result)
	}
}

func TestFormatBatchSkipsExcluded(t *testing.T) {
	cfg := testConfig()
	cfg.Excludes = []string{"**/skip/**"}
	factory := func(ctx context.Context, key string) (plugin.Adapter, error) {
		return &fakeAdapter{name: key, transform: upperTransform}, nil
	}
	sched := New(cfg, factory, 2, nil)
	defer sched.Close(context.Background())

	files := map[string][]byte{"skip/a.txt": []byte("hello")}
	read := func(ctx context.Context, path string) ([]byte, error) { return files[path], nil }
	result, err := sched.FormatBatch(context.Background(), []string{"skip/a.txt"}, read, BatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.FormattedCount != 0 || result.UnchangedCount != 0 {
		t.Fatalf("expected excluded file skipped entirely, got %+v", result)
	}
}

func TestFormatBatchCheckModePopulatesDiffs(t *testing.T) {
	sched := newTestScheduler(t)
	defer sched.Close(context.Background())
	files := map[string][]byte{"a.txt": []byte("hello")}
	read := func(ctx context.Context, path string) ([]byte, error) { return files[path], nil }
	result, err := sched.FormatBatch(context.Background(), []string{"a.txt"}, read, BatchOptions{CheckMode: true})
	if err != nil {
		t.Fatal(err)
	}
	if string(result.Diffs["a.txt"]) != "HELLO" {
		t.Fatalf("got diffs %+v", result.Diffs)
	}
}

func TestFormatBatchRecordsRecoverableErrorsWithoutAborting(t *testing.T) {
	sched := newTestScheduler(t)
	defer sched.Close(context.Background())
	read := func(ctx context.Context, path string) ([]byte, error) {
		if strings.Contains(path, "bad") {
			return nil, dgerrors.New(dgerrors.Recoverable, "read", "boom")
		}
		return []byte("hello"), nil
	}
	result, err := sched.FormatBatch(context.Background(), []string{"bad.txt", "a.txt"}, read, BatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Errored) != 1 || result.FormattedCount != 1 {
		t.Fatalf("got %+v", result)
	}
}

func TestHostFormatReentryBorrowsSideTable(t *testing.T) {
	cfg := &fmtconfig.FormatConfig{
		Plugins: []fmtconfig.PluginConfig{
			{Key: "parent", Associations: []string{"**/*.parent"}},
			{Key: "child", Associations: []string{"**/*.child"}},
		},
	}
	factory := func(ctx context.Context, key string) (plugin.Adapter, error) {
		if key == "parent" {
			return &fakeAdapter{name: key, transform: func(path string, text []byte, hf plugin.HostFormatFunc) (plugin.FormatResult, error) {
				return hf(context.Background(), "embedded.child", []byte("inner"), nil)
			}}, nil
		}
		return &fakeAdapter{name: key, transform: upperTransform}, nil
	}
	sched := New(cfg, factory, 1, nil)
	defer sched.Close(context.Background())

	read := func(ctx context.Context, path string) ([]byte, error) { return []byte("outer"), nil }
	result, err := sched.FormatBatch(context.Background(), []string{"a.parent"}, read, BatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.FormattedCount != 1 {
		t.Fatalf("expected host-format re-entry to succeed without deadlock, got %+v", result)
	}
}
