package wasmplugin

import "testing"

func TestPackUint64RoundTrip(t *testing.T) {
	packed := packUint64(0x1234, 0x5678)
	if ptr := uint32(packed >> 32); ptr != 0x1234 {
		t.Fatalf("ptr = %#x", ptr)
	}
	if size := uint32(packed & 0xFFFFFFFF); size != 0x5678 {
		t.Fatalf("size = %#x", size)
	}
}

func TestErrString(t *testing.T) {
	if errString(nil) != "" {
		t.Fatal("expected empty string for nil error")
	}
}
