package resolver

import (
	"context"
	"testing"

	"github.com/dformat-org/dformat/pkg/plugin"
)

func TestInMemoryResolve(t *testing.T) {
	r := NewInMemory()
	r.Register("ts", []byte("wasm bytes"), plugin.KindWasm)
	data, kind, err := r.Resolve(context.Background(), "ts")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "wasm bytes" || kind != plugin.KindWasm {
		t.Fatalf("got %q %v", data, kind)
	}
}

func TestInMemoryResolveMissing(t *testing.T) {
	r := NewInMemory()
	if _, _, err := r.Resolve(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unregistered key")
	}
}
