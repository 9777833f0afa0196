// Package wasmplugin sandboxes a formatter plugin distributed as a
// WebAssembly module, using wazero. It instantiates a fresh api.Module per
// call (the same pattern as
// _examples/other_examples/5219d05d_reglet-dev-reglet__internal-wasm-plugin.go.go)
// so concurrent Format calls never share mutable module state, and
// exposes a host_format import so a plugin's inner format() call can
// re-enter the scheduler for cross-plugin host-format delegation
// (spec.md §4.4).
package wasmplugin

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/dformat-org/dformat/pkg/dgerrors"
	"github.com/dformat-org/dformat/pkg/plugin"
)

// Instance wraps one compiled WASM plugin module. It implements
// plugin.Adapter.
type Instance struct {
	name    string
	runtime wazero.Runtime
	compiled wazero.CompiledModule

	mu sync.Mutex

	state plugin.LifecycleState

	// hostFormat is installed by Format at the start of every call so the
	// host_format import can delegate to it.
	hostFormat plugin.HostFormatFunc
}

// New compiles wasmBytes and prepares an Instance. The runtime is
// configured with a host_format import matching the plugin schema's
// expected module imports.
func New(ctx context.Context, name string, wasmBytes []byte) (*Instance, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, dgerrors.Wrap(dgerrors.Critical, "compile", "failed to instantiate WASI", err).WithPlugin(name)
	}

	inst := &Instance{name: name, runtime: rt}

	_, err := rt.NewHostModuleBuilder("dprint").
		NewFunctionBuilder().
		WithFunc(inst.hostFormatImport).
		Export("host_format").
		NewFunctionBuilder().
		WithFunc(inst.hostHasFormattedImport).
		Export("host_has_cancelled").
		Instantiate(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, dgerrors.Wrap(dgerrors.Critical, "compile", "failed to build host module", err).WithPlugin(name)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, dgerrors.Wrap(dgerrors.Critical, "compile", "failed to compile module", err).WithPlugin(name)
	}
	inst.compiled = compiled
	inst.state.Set(plugin.StateFresh)
	return inst, nil
}

func (i *Instance) Kind() plugin.Kind { return plugin.KindWasm }
func (i *Instance) Name() string      { return i.name }
func (i *Instance) State() plugin.State { return i.state.Get() }

// SetHostFormat installs the callback used by the host_format import.
// Format calls it with the HostFormatFunc it was given.
func (i *Instance) SetHostFormat(f plugin.HostFormatFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hostFormat = f
}

// hostFormatImport is exported to the module as host_format(ptr, len) ->
// packed(ptr, len) of a JSON object {changed, text, error} describing the
// host-format result, or 0 if the request could not be read or no
// host-format callback is installed; the bookkeeping of packing/unpacking
// mirrors the reglet-dev-reglet grounding.
func (i *Instance) hostFormatImport(ctx context.Context, mod api.Module, ptr, size uint32) uint64 {
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return 0
	}
	var req struct {
		FilePath       string `json:"file_path"`
		FileText       []byte `json:"file_text"`
		OverrideConfig []byte `json:"override_config"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return 0
	}
	i.mu.Lock()
	hf := i.hostFormat
	i.mu.Unlock()
	if hf == nil {
		return 0
	}
	result, err := hf(ctx, req.FilePath, req.FileText, req.OverrideConfig)
	out, _ := json.Marshal(struct {
		Changed bool   `json:"changed"`
		Text    []byte `json:"text"`
		Error   string `json:"error,omitempty"`
	}{Changed: result.Changed, Text: result.Text, Error: errString(err)})
	return i.writeToMemory(ctx, mod, out)
}

func (i *Instance) hostHasFormattedImport(ctx context.Context, mod api.Module) uint32 {
	select {
	case <-ctx.Done():
		return 1
	default:
		return 0
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// createInstance instantiates a fresh module for one call, per the
// fresh-instance-per-call pattern.
func (i *Instance) createInstance(ctx context.Context) (api.Module, error) {
	cfg := wazero.NewModuleConfig().WithStdout(discard{}).WithStderr(discard{})
	mod, err := i.runtime.InstantiateModule(ctx, i.compiled, cfg)
	if err != nil {
		return nil, dgerrors.Wrap(dgerrors.Critical, "instantiate", "failed to instantiate module", err).WithPlugin(i.name)
	}
	return mod, nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (i *Instance) writeToMemory(ctx context.Context, mod api.Module, data []byte) uint64 {
	alloc := mod.ExportedFunction("allocate")
	if alloc == nil {
		return 0
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(res) == 0 {
		return 0
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0
	}
	return (uint64(ptr) << 32) | uint64(len(data))
}

func (i *Instance) readResult(ctx context.Context, mod api.Module, packed uint64) ([]byte, bool) {
	ptr := uint32(packed >> 32)
	size := uint32(packed & 0xFFFFFFFF)
	if size == 0 {
		return nil, true
	}
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	i.deallocate(ctx, mod, ptr, size)
	return out, true
}

func (i *Instance) deallocate(ctx context.Context, mod api.Module, ptr, size uint32) {
	dealloc := mod.ExportedFunction("deallocate")
	if dealloc == nil {
		return
	}
	_, _ = dealloc.Call(ctx, uint64(ptr), uint64(size))
}

func (i *Instance) callExportJSON(ctx context.Context, fnName string, in any, out any) error {
	mod, err := i.createInstance(ctx)
	if err != nil {
		return err
	}
	defer mod.Close(ctx)

	var packedIn uint64
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return dgerrors.Wrap(dgerrors.Transport, fnName, "failed to marshal request", err).WithPlugin(i.name)
		}
		packedIn = i.writeToMemory(ctx, mod, data)
	}

	fn := mod.ExportedFunction(fnName)
	if fn == nil {
		return dgerrors.New(dgerrors.Critical, fnName, "plugin module has no such export").WithPlugin(i.name)
	}
	var args []uint64
	if in != nil {
		args = []uint64{packedIn}
	}
	res, err := fn.Call(ctx, args...)
	if err != nil {
		i.state.MarkDropped()
		return dgerrors.Wrap(dgerrors.Critical, fnName, "plugin trapped", err).WithPlugin(i.name)
	}
	if out == nil || len(res) == 0 {
		return nil
	}
	data, ok := i.readResult(ctx, mod, res[0])
	if !ok {
		return dgerrors.New(dgerrors.Critical, fnName, "failed to read result from module memory").WithPlugin(i.name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return dgerrors.Wrap(dgerrors.Transport, fnName, "failed to unmarshal result", err).WithPlugin(i.name)
	}
	return nil
}

func (i *Instance) PluginInfo(ctx context.Context) (plugin.Info, error) {
	var info plugin.Info
	err := i.callExportJSON(ctx, "get_plugin_info", nil, &info)
	return info, err
}

func (i *Instance) LicenseText(ctx context.Context) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := i.callExportJSON(ctx, "get_license_text", nil, &out)
	return out.Text, err
}

func (i *Instance) RegisterConfig(ctx context.Context, configID uint32, globalConfig, pluginConfig []byte) error {
	in := struct {
		ConfigID     uint32          `json:"config_id"`
		GlobalConfig json.RawMessage `json:"global_config"`
		PluginConfig json.RawMessage `json:"plugin_config"`
	}{configID, globalConfig, pluginConfig}
	if err := i.callExportJSON(ctx, "set_global_config", in.GlobalConfig, nil); err != nil {
		return err
	}
	if err := i.callExportJSON(ctx, "set_plugin_config", in.PluginConfig, nil); err != nil {
		return err
	}
	i.state.Set(plugin.StateConfigPushed)
	return nil
}

func (i *Instance) ReleaseConfig(ctx context.Context, configID uint32) error {
	// WASM instances are fresh per call; nothing to release server-side.
	return nil
}

func (i *Instance) ConfigDiagnostics(ctx context.Context, configID uint32) ([]dgerrors.Diagnostic, error) {
	var diags []dgerrors.Diagnostic
	err := i.callExportJSON(ctx, "get_config_diagnostics", nil, &diags)
	return diags, err
}

func (i *Instance) ResolvedConfig(ctx context.Context, configID uint32) ([]byte, error) {
	var out json.RawMessage
	err := i.callExportJSON(ctx, "get_resolved_config", nil, &out)
	return out, err
}

func (i *Instance) Format(ctx context.Context, req plugin.FormatRequest, hostFormat plugin.HostFormatFunc) (plugin.FormatResult, error) {
	i.SetHostFormat(hostFormat)
	i.state.Set(plugin.StateFormatting)
	defer func() {
		if i.state.Get() != plugin.StateDropped {
			i.state.Set(plugin.StateIdle)
		}
	}()

	if err := i.callExportJSON(ctx, "set_file_path", req.FilePath, nil); err != nil {
		return plugin.FormatResult{}, err
	}
	if len(req.OverrideConfig) > 0 {
		if err := i.callExportJSON(ctx, "set_override_config", json.RawMessage(req.OverrideConfig), nil); err != nil {
			return plugin.FormatResult{}, err
		}
	}

	var changed uint32
	err := i.callFormatExport(ctx, req.FileText, &changed)
	if err != nil {
		return plugin.FormatResult{}, err
	}
	if changed == 0 {
		return plugin.FormatResult{Changed: false, Text: req.FileText}, nil
	}
	var out struct {
		Text []byte `json:"text"`
	}
	if err := i.callExportJSON(ctx, "get_formatted_text", nil, &out); err != nil {
		return plugin.FormatResult{}, err
	}
	return plugin.FormatResult{Changed: true, Text: out.Text}, nil
}

// callFormatExport calls the format() export directly (not JSON-shaped:
// it takes the packed file-text pointer and returns a changed/unchanged
// u32, matching the dprint WASM schema v4 ABI).
func (i *Instance) callFormatExport(ctx context.Context, fileText []byte, changed *uint32) error {
	mod, err := i.createInstance(ctx)
	if err != nil {
		return err
	}
	defer mod.Close(ctx)
	packed := i.writeToMemory(ctx, mod, fileText)
	fn := mod.ExportedFunction("format")
	if fn == nil {
		return dgerrors.New(dgerrors.Critical, "format", "plugin module has no format export").WithPlugin(i.name)
	}
	res, err := fn.Call(ctx, packed)
	if err != nil {
		i.state.MarkDropped()
		return dgerrors.Wrap(dgerrors.Critical, "format", "plugin trapped during format", err).WithPlugin(i.name)
	}
	if len(res) == 0 {
		return dgerrors.New(dgerrors.Transport, "format", "plugin returned no result").WithPlugin(i.name)
	}
	*changed = uint32(res[0])
	return nil
}

func (i *Instance) Close(ctx context.Context) error {
	i.state.MarkDropped()
	return i.runtime.Close(ctx)
}

// packUint64 is exposed for tests that want to construct a packed
// ptr/size result without going through writeToMemory.
func packUint64(ptr, size uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(size)
}
