package procplugin

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestVerifySchemaVersionAccepts(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(schemaVersion))
	inst := &Instance{name: "test"}
	if err := inst.verifySchemaVersion(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifySchemaVersionRejectsMismatch(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(schemaVersion+1))
	inst := &Instance{name: "test"}
	if err := inst.verifySchemaVersion(&buf); err == nil {
		t.Fatal("expected mismatch error")
	}
}
