package editorproto

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dformat-org/dformat/pkg/dgerrors"
	"github.com/dformat-org/dformat/pkg/fmtconfig"
	"github.com/dformat-org/dformat/pkg/plugin"
	"github.com/dformat-org/dformat/pkg/scheduler"
)

type upperAdapter struct {
	plugin.LifecycleState
}

func (upperAdapter) Kind() plugin.Kind { return plugin.KindWasm }
func (upperAdapter) Name() string      { return "upper" }
func (upperAdapter) PluginInfo(context.Context) (plugin.Info, error) { return plugin.Info{}, nil }
func (upperAdapter) LicenseText(context.Context) (string, error)     { return "", nil }
func (upperAdapter) RegisterConfig(context.Context, uint32, []byte, []byte) error { return nil }
func (upperAdapter) ReleaseConfig(context.Context, uint32) error                  { return nil }
func (upperAdapter) ConfigDiagnostics(context.Context, uint32) ([]dgerrors.Diagnostic, error) {
	return nil, nil
}
func (upperAdapter) ResolvedConfig(context.Context, uint32) ([]byte, error)       { return nil, nil }
func (upperAdapter) Format(ctx context.Context, req plugin.FormatRequest, hf plugin.HostFormatFunc) (plugin.FormatResult, error) {
	return plugin.FormatResult{Changed: true, Text: []byte(strings.ToUpper(string(req.FileText)))}, nil
}
func (u upperAdapter) State() plugin.State       { return u.Get() }
func (upperAdapter) Close(context.Context) error { return nil }

func TestServeFmtStdin(t *testing.T) {
	cfg := &fmtconfig.FormatConfig{
		Plugins: []fmtconfig.PluginConfig{{Key: "upper", Associations: []string{"**/*.txt"}}},
	}
	factory := func(ctx context.Context, key string) (plugin.Adapter, error) { return upperAdapter{}, nil }
	sched := scheduler.New(cfg, factory, 1, nil)

	in := strings.NewReader(`{"id":1,"command":"fmt-stdin","path":"a.txt","text":"hi"}` + "\n")
	var out bytes.Buffer
	srv := NewServer(sched, in, &out)
	if err := srv.Serve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"text":"HI"`) {
		t.Fatalf("got %s", out.String())
	}
}
