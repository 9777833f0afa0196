package dgerrors

import (
	"errors"
	"testing"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	fe := Wrap(Transport, "format", "plugin crashed", cause)
	if !errors.Is(fe, cause) {
		t.Fatal("expected Unwrap chain to reach cause")
	}
	if !Is(fe, Transport) {
		t.Fatal("expected Is(Transport) true")
	}
	if Is(fe, Critical) {
		t.Fatal("expected Is(Critical) false")
	}
}

func TestIsCritical(t *testing.T) {
	fe := New(Critical, "format", "wasm trap")
	if !IsCritical(fe) {
		t.Fatal("expected critical")
	}
}

func TestWithPluginAndPath(t *testing.T) {
	fe := New(Recoverable, "format", "parse error").WithPlugin("typescript").WithPath("a.ts")
	if fe.Plugin != "typescript" || fe.Path != "a.ts" {
		t.Fatalf("got %+v", fe)
	}
}
