package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestFormatTextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := NewCodec(&loopback{&buf})

	req := &Request{
		ID:       7,
		Kind:     KindFormatText,
		FilePath: "a.ts",
		ConfigID: 1,
		FileText: []byte("let x=1"),
	}
	if err := codec.WriteRequest(req); err != nil {
		t.Fatal(err)
	}
	got, err := codec.ReadRequest()
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 || got.Kind != KindFormatText || got.FilePath != "a.ts" || string(got.FileText) != "let x=1" {
		t.Fatalf("got %+v", got)
	}
	if got.StartByteIndex != 0 || got.EndByteIndex != uint32(len("let x=1")) {
		t.Fatalf("expected whole-file range, got %d-%d", got.StartByteIndex, got.EndByteIndex)
	}
}

func TestResponseFormatTextNoChange(t *testing.T) {
	var buf bytes.Buffer
	codec := NewCodec(&loopback{&buf})
	resp := &Response{ID: 1, Kind: RespSuccess, IsFormatResult: true, FormatChanged: false}
	if err := codec.WriteResponse(resp); err != nil {
		t.Fatal(err)
	}
	got, err := codec.ReadResponse(true)
	if err != nil {
		t.Fatal(err)
	}
	if got.FormatChanged {
		t.Fatal("expected no change")
	}
}

func TestChunkedTransferLargePayload(t *testing.T) {
	hostR, pluginW := io.Pipe()
	pluginR, hostW := io.Pipe()
	host := NewCodecRW(hostR, hostW)
	plugin := NewCodecRW(pluginR, pluginW)

	big := bytes.Repeat([]byte("x"), chunkThreshold*3+17)
	req := &Request{ID: 1, Kind: KindFormatText, FilePath: "f", FileText: big}

	errCh := make(chan error, 1)
	go func() { errCh <- host.WriteRequest(req) }()

	got, err := plugin.ReadRequest()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.FileText, big) {
		t.Fatalf("chunked payload mismatch: got %d bytes, want %d", len(got.FileText), len(big))
	}
}

type loopback struct{ buf *bytes.Buffer }

func (l *loopback) Read(p []byte) (int, error)  { return l.buf.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.buf.Write(p) }
