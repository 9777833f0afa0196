// Package procplugin hosts a formatter plugin distributed as an
// out-of-process executable: it spawns the child, speaks the pkg/wire
// framing over its stdin/stdout, multiplexes concurrent requests by
// request id, and performs the schema-version handshake documented in
// _examples/original_source/crates/core/src/plugins/process/communicator.rs
// before trusting the rest of the stream (see DESIGN.md "supplemented
// features"). Routing-table shape is grounded on
// _examples/other_examples/29e0ca4d_filegrind-capns-go__plugin_host.go.go.
package procplugin

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/dformat-org/dformat/pkg/dgerrors"
	"github.com/dformat-org/dformat/pkg/dlog"
	"github.com/dformat-org/dformat/pkg/plugin"
	"github.com/dformat-org/dformat/pkg/wire"
)

// schemaVersion is the expected process-plugin wire schema version,
// verified immediately after spawn (see DESIGN.md).
const schemaVersion = 4

// pendingKind records which variant of ReadResponse a pending call expects
// so the reader goroutine can decode it correctly.
type pendingKind int

const (
	pendingPlain pendingKind = iota
	pendingFormatText
)

type pending struct {
	kind pendingKind
	ch   chan pendingResult
}

type pendingResult struct {
	resp *wire.Response
	err  error
}

// Instance is a process-backed plugin.Adapter.
type Instance struct {
	name string
	cmd  *exec.Cmd
	codec *wire.Codec
	log  dlog.Logger

	mu        sync.Mutex
	nextID    uint32
	pendingMu sync.Mutex
	pendingReqs map[uint32]*pending
	formatPendingID uint32

	state plugin.LifecycleState

	hostFormatMu sync.Mutex
	hostFormat   plugin.HostFormatFunc

	closeOnce sync.Once
	done      chan struct{}
}

// Spawn starts execPath as a child process and performs the schema
// handshake, returning a ready Instance.
func Spawn(ctx context.Context, name, execPath string, args []string, log dlog.Logger) (*Instance, error) {
	if log == nil {
		log = dlog.Noop
	}
	cmd := exec.CommandContext(ctx, execPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, dgerrors.Wrap(dgerrors.Transport, "spawn", "failed to open stdin pipe", err).WithPlugin(name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, dgerrors.Wrap(dgerrors.Transport, "spawn", "failed to open stdout pipe", err).WithPlugin(name)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, dgerrors.Wrap(dgerrors.Critical, "spawn", "failed to start plugin process", err).WithPlugin(name)
	}

	inst := &Instance{
		name:        name,
		cmd:         cmd,
		codec:       wire.NewCodecRW(stdout, stdin),
		log:         log,
		pendingReqs: map[uint32]*pending{},
		done:        make(chan struct{}),
	}
	inst.state.Set(plugin.StateFresh)

	if err := inst.verifySchemaVersion(stdout); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	go inst.readLoop()
	go inst.livenessLoop(ctx)

	return inst, nil
}

// verifySchemaVersion reads a single big-endian u32 from the child's
// stdout before any framed traffic and compares it to schemaVersion,
// exactly as communicator.rs's verify_plugin_schema_version does.
func (i *Instance) verifySchemaVersion(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return dgerrors.Wrap(dgerrors.Transport, "handshake", "failed to read schema version", err).WithPlugin(i.name)
	}
	got := binary.BigEndian.Uint32(buf[:])
	if got != schemaVersion {
		return dgerrors.New(dgerrors.Transport, "handshake",
			fmt.Sprintf("plugin schema version mismatch: got %d, want %d", got, schemaVersion)).WithPlugin(i.name)
	}
	return nil
}

func (i *Instance) Kind() plugin.Kind   { return plugin.KindProcess }
func (i *Instance) Name() string        { return i.name }
func (i *Instance) State() plugin.State { return i.state.Get() }

func (i *Instance) allocID() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nextID++
	return i.nextID
}

// send writes req and registers a pending slot keyed by req.ID, returning
// a channel the reader loop will deliver the matching response on.
func (i *Instance) send(req *wire.Request, kind pendingKind) (chan pendingResult, error) {
	p := &pending{kind: kind, ch: make(chan pendingResult, 1)}
	i.pendingMu.Lock()
	i.pendingReqs[req.ID] = p
	i.pendingMu.Unlock()

	if err := i.codec.WriteRequest(req); err != nil {
		i.pendingMu.Lock()
		delete(i.pendingReqs, req.ID)
		i.pendingMu.Unlock()
		i.state.MarkDropped()
		return nil, dgerrors.Wrap(dgerrors.Critical, "send", "failed to write request", err).WithPlugin(i.name)
	}
	return p.ch, nil
}

func (i *Instance) call(ctx context.Context, req *wire.Request, kind pendingKind) (*wire.Response, error) {
	ch, err := i.send(req, kind)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		_ = i.codec.WriteRequest(&wire.Request{ID: i.allocID(), Kind: wire.KindCancelFormat, TargetMessageID: req.ID})
		return nil, dgerrors.New(dgerrors.Cancelled, "call", "context cancelled").WithPlugin(i.name)
	case <-i.done:
		return nil, dgerrors.New(dgerrors.Critical, "call", "plugin process exited").WithPlugin(i.name)
	}
}

// readLoop is the single goroutine that owns reading from the child's
// stdout; it demultiplexes responses to pending calls by id, and routes
// RespHostFormat messages to the installed host-format callback,
// answering with a HostFormatResponse message, all without blocking other
// in-flight requests.
func (i *Instance) readLoop() {
	defer close(i.done)
	for {
		// We don't know statically whether the next response is a
		// FormatText-shaped success; peek the pending table for the
		// lowest-id plain heuristic is unreliable with true
		// multiplexing, so pendingKind is tracked per-id and consulted
		// via a trial read: FormatText calls are the only ones using
		// pendingFormatText, and the reader always knows the id before
		// choosing how to decode the body up to the kind discriminator,
		// matching the wire layout (id, kind, ...).
		resp, err := i.readOneResponse()
		if err != nil {
			i.failAllPending(err)
			return
		}
		if resp.Kind == wire.RespHostFormat {
			go i.handleHostFormatRequest(resp)
			continue
		}
		i.pendingMu.Lock()
		p, ok := i.pendingReqs[resp.ID]
		if ok {
			delete(i.pendingReqs, resp.ID)
		}
		i.pendingMu.Unlock()
		if ok {
			p.ch <- pendingResult{resp: resp}
		}
	}
}

// readOneResponse reads the id+kind discriminator, then looks up the
// pending request's kind to finish decoding correctly (FormatText results
// use a different RespSuccess body shape than every other call).
func (i *Instance) readOneResponse() (*wire.Response, error) {
	// wire.Codec.ReadResponse needs to know up front whether a
	// RespSuccess should parse as FormatText's shape; we resolve that by
	// checking which pending id is expected next is not generally
	// possible without peeking, so FormatText calls run on a dedicated
	// codec framing path: the scheduler guarantees at most one in-flight
	// FormatText per Instance (its per-plugin semaphore caps concurrent
	// Format calls to the pool size), so we track the single outstanding
	// FormatText id here.
	i.pendingMu.Lock()
	expectFormat := i.formatPendingID != 0
	i.pendingMu.Unlock()
	return i.codec.ReadResponse(expectFormat)
}

func (i *Instance) failAllPending(err error) {
	i.state.MarkDropped()
	i.pendingMu.Lock()
	defer i.pendingMu.Unlock()
	for id, p := range i.pendingReqs {
		p.ch <- pendingResult{err: dgerrors.Wrap(dgerrors.Critical, "read", "plugin connection lost", err).WithPlugin(i.name)}
		delete(i.pendingReqs, id)
	}
}

func (i *Instance) handleHostFormatRequest(resp *wire.Response) {
	i.hostFormatMu.Lock()
	hf := i.hostFormat
	i.hostFormatMu.Unlock()

	var result plugin.FormatResult
	var err error
	if hf != nil {
		result, err = hf(context.Background(), resp.HostFilePath, resp.HostFileText, resp.HostOverrideConfig)
	} else {
		err = dgerrors.New(dgerrors.Transport, "host_format", "no host-format handler installed").WithPlugin(i.name)
	}

	out := &wire.Request{ID: i.allocID(), Kind: wire.KindHostFormatResponse}
	switch {
	case err != nil:
		out.HostResultKind = wire.HostFormatError
		out.HostResultData = []byte(err.Error())
	case result.Changed:
		out.HostResultKind = wire.HostFormatChange
		out.HostResultData = result.Text
	default:
		out.HostResultKind = wire.HostFormatNoChange
	}
	_ = i.codec.WriteRequest(out)
}

func (i *Instance) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.done:
			return
		case <-ticker.C:
			req := &wire.Request{ID: i.allocID(), Kind: wire.KindIsAlive}
			if _, err := i.call(ctx, req, pendingPlain); err != nil {
				i.log.Warn("plugin liveness check failed", "plugin", i.name, "err", err)
				return
			}
		}
	}
}

// SetHostFormat installs the callback invoked when this plugin emits a
// RespHostFormat message.
func (i *Instance) SetHostFormat(f plugin.HostFormatFunc) {
	i.hostFormatMu.Lock()
	defer i.hostFormatMu.Unlock()
	i.hostFormat = f
}

func (i *Instance) PluginInfo(ctx context.Context) (plugin.Info, error) {
	resp, err := i.call(ctx, &wire.Request{ID: i.allocID(), Kind: wire.KindGetPluginInfo}, pendingPlain)
	if err != nil {
		return plugin.Info{}, err
	}
	var info plugin.Info
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return plugin.Info{}, dgerrors.Wrap(dgerrors.Transport, "get_plugin_info", "malformed plugin info", err).WithPlugin(i.name)
	}
	return info, nil
}

func (i *Instance) LicenseText(ctx context.Context) (string, error) {
	resp, err := i.call(ctx, &wire.Request{ID: i.allocID(), Kind: wire.KindGetLicenseText}, pendingPlain)
	if err != nil {
		return "", err
	}
	return string(resp.Data), nil
}

func (i *Instance) RegisterConfig(ctx context.Context, configID uint32, globalConfig, pluginConfig []byte) error {
	req := &wire.Request{
		ID:           i.allocID(),
		Kind:         wire.KindRegisterConfig,
		ConfigID:     configID,
		GlobalConfig: globalConfig,
		PluginConfig: pluginConfig,
	}
	_, err := i.call(ctx, req, pendingPlain)
	if err == nil {
		i.state.Set(plugin.StateConfigPushed)
	}
	return err
}

func (i *Instance) ReleaseConfig(ctx context.Context, configID uint32) error {
	req := &wire.Request{ID: i.allocID(), Kind: wire.KindReleaseConfig, TargetMessageID: configID}
	_, err := i.call(ctx, req, pendingPlain)
	return err
}

func (i *Instance) ConfigDiagnostics(ctx context.Context, configID uint32) ([]dgerrors.Diagnostic, error) {
	req := &wire.Request{ID: i.allocID(), Kind: wire.KindGetConfigDiagnostics, TargetMessageID: configID}
	resp, err := i.call(ctx, req, pendingPlain)
	if err != nil {
		return nil, err
	}
	var diags []dgerrors.Diagnostic
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &diags); err != nil {
			return nil, dgerrors.Wrap(dgerrors.Transport, "get_config_diagnostics", "malformed diagnostics", err).WithPlugin(i.name)
		}
	}
	return diags, nil
}

func (i *Instance) ResolvedConfig(ctx context.Context, configID uint32) ([]byte, error) {
	req := &wire.Request{ID: i.allocID(), Kind: wire.KindGetResolvedConfig, TargetMessageID: configID}
	resp, err := i.call(ctx, req, pendingPlain)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (i *Instance) Format(ctx context.Context, req plugin.FormatRequest, hostFormat plugin.HostFormatFunc) (plugin.FormatResult, error) {
	i.SetHostFormat(hostFormat)
	i.state.Set(plugin.StateFormatting)
	defer func() {
		if i.state.Get() != plugin.StateDropped {
			i.state.Set(plugin.StateIdle)
		}
	}()

	id := i.allocID()
	wreq := &wire.Request{
		ID:             id,
		Kind:           wire.KindFormatText,
		FilePath:       req.FilePath,
		FileText:       req.FileText,
		OverrideConfig: req.OverrideConfig,
	}
	if req.Range != nil {
		wreq.StartByteIndex = req.Range.Start
		wreq.EndByteIndex = req.Range.End
	}

	i.pendingMu.Lock()
	i.formatPendingID = id
	i.pendingMu.Unlock()
	defer func() {
		i.pendingMu.Lock()
		i.formatPendingID = 0
		i.pendingMu.Unlock()
	}()

	resp, err := i.call(ctx, wreq, pendingFormatText)
	if err != nil {
		return plugin.FormatResult{}, err
	}
	if !resp.FormatChanged {
		return plugin.FormatResult{Changed: false, Text: req.FileText}, nil
	}
	return plugin.FormatResult{Changed: true, Text: resp.Data}, nil
}

func (i *Instance) Close(ctx context.Context) error {
	var err error
	i.closeOnce.Do(func() {
		_ = i.codec.WriteRequest(&wire.Request{ID: i.allocID(), Kind: wire.KindClose})
		i.state.MarkDropped()
		if i.cmd.Process != nil {
			_ = i.cmd.Process.Kill()
		}
		err = i.cmd.Wait()
	})
	return err
}
