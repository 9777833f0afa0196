// Package editorproto implements the editor-service protocol named by
// spec.md §6's `editor-service` subcommand: a newline-delimited JSON
// request/response loop over stdin/stdout for editor integrations,
// supplemented from the original implementation's editor-service commands
// (see DESIGN.md/SPEC_FULL.md "SUPPLEMENTED FEATURES" — dformat never
// shipped this protocol in the distilled spec, but a complete editor
// integration needs it, and original_source/ documents its shape).
package editorproto

import (
	"bufio"
	"context"
	"io"

	"github.com/goccy/go-json"

	"github.com/dformat-org/dformat/pkg/scheduler"
)

// Request is one newline-delimited JSON request from the editor.
type Request struct {
	ID      uint32 `json:"id"`
	Command string `json:"command"` // "fmt-stdin" | "cancel"; any other command gets an "unknown command" error response
	Path    string `json:"path,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Response is one newline-delimited JSON response to the editor.
type Response struct {
	ID      uint32 `json:"id"`
	OK      bool   `json:"ok"`
	Text    string `json:"text,omitempty"`
	Changed bool   `json:"changed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server runs the editor-service loop: one JSON object per line in, one
// JSON object per line out, until the reader is closed or ctx is
// cancelled. A "cancel" request cancels the request with the same id and
// the loop keeps running.
type Server struct {
	sched *scheduler.Scheduler
	in    *bufio.Scanner
	out   io.Writer

	cancelFns map[uint32]context.CancelFunc
}

func NewServer(sched *scheduler.Scheduler, in io.Reader, out io.Writer) *Server {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Server{sched: sched, in: sc, out: out, cancelFns: map[uint32]context.CancelFunc{}}
}

// Serve blocks processing requests until EOF or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	for s.in.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := s.in.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(Response{OK: false, Error: "malformed request: " + err.Error()})
			continue
		}
		s.handle(ctx, req)
	}
	return s.in.Err()
}

func (s *Server) handle(ctx context.Context, req Request) {
	switch req.Command {
	case "cancel":
		if cancel, ok := s.cancelFns[req.ID]; ok {
			cancel()
			delete(s.cancelFns, req.ID)
		}
		s.writeResponse(Response{ID: req.ID, OK: true})
	case "fmt-stdin":
		callCtx, cancel := context.WithCancel(ctx)
		s.cancelFns[req.ID] = cancel
		defer func() { delete(s.cancelFns, req.ID); cancel() }()

		read := func(context.Context, string) ([]byte, error) { return []byte(req.Text), nil }
		result, err := s.sched.FormatBatch(callCtx, []string{req.Path}, read, scheduler.BatchOptions{CheckMode: true})
		if err != nil {
			s.writeResponse(Response{ID: req.ID, OK: false, Error: err.Error()})
			return
		}
		if len(result.Errored) > 0 {
			s.writeResponse(Response{ID: req.ID, OK: false, Error: result.Errored[0].Err.Error()})
			return
		}
		if text, ok := result.Diffs[req.Path]; ok {
			s.writeResponse(Response{ID: req.ID, OK: true, Changed: true, Text: string(text)})
		} else {
			s.writeResponse(Response{ID: req.ID, OK: true, Changed: false, Text: req.Text})
		}
	default:
		s.writeResponse(Response{ID: req.ID, OK: false, Error: "unknown command"})
	}
}

func (s *Server) writeResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = s.out.Write(data)
	_, _ = s.out.Write([]byte("\n"))
}
