// Package dlog is a thin structured-logging facade. Core packages accept a
// Logger interface (defaulting to a no-op) rather than importing zerolog
// directly, the same dependency-injected-collaborator shape the teacher
// uses for its ErrorFormatter/ErrorConfig interfaces; only cmd/dformat
// wires the real github.com/rs/zerolog-backed implementation.
package dlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the narrow logging surface every package in this module
// depends on. Fields are passed as alternating key/value pairs, mirroring
// zerolog's common .Fields(map[string]interface{}) usage without forcing
// every caller to import zerolog.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
	With(kv ...any) Logger
}

// noop discards everything; used as the default so library packages have
// no hard logging dependency.
type noop struct{}

func (noop) Debug(string, ...any)        {}
func (noop) Info(string, ...any)         {}
func (noop) Warn(string, ...any)         {}
func (noop) Error(string, error, ...any) {}
func (noop) With(...any) Logger          { return noop{} }

var Noop Logger = noop{}

type zlog struct {
	l zerolog.Logger
}

// New builds a zerolog-backed Logger writing human-readable output to w
// (cmd/dformat wires this to os.Stderr by default, or a JSON writer for
// the editor-service/machine-readable modes per spec.md §7).
func New(w io.Writer, json bool) Logger {
	var l zerolog.Logger
	if json {
		l = zerolog.New(w).With().Timestamp().Logger()
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: !isTerminal(w)}).With().Timestamp().Logger()
	}
	return zlog{l: l}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func withFields(ev *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}

func (z zlog) Debug(msg string, kv ...any) { withFields(z.l.Debug(), kv).Msg(msg) }
func (z zlog) Info(msg string, kv ...any)  { withFields(z.l.Info(), kv).Msg(msg) }
func (z zlog) Warn(msg string, kv ...any)  { withFields(z.l.Warn(), kv).Msg(msg) }
func (z zlog) Error(msg string, err error, kv ...any) {
	withFields(z.l.Error().Err(err), kv).Msg(msg)
}

func (z zlog) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return zlog{l: ctx.Logger()}
}
