// Package wire implements the process-plugin framing protocol of
// spec.md §4.3: big-endian u32 length-prefixed messages, chunked transfer
// with acknowledgement for payloads over 1024 bytes, and a four-byte
// 0xFFFFFFFF success sentinel after every read/write. Message kind
// numbering is taken verbatim from
// _examples/original_source/crates/core/src/plugins/process/messages.rs
// (see DESIGN.md).
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// MessageKind enumerates the host->plugin request kinds.
type MessageKind uint32

const (
	KindClose              MessageKind = 1
	KindIsAlive            MessageKind = 2
	KindGetPluginInfo      MessageKind = 3
	KindGetLicenseText     MessageKind = 4
	KindRegisterConfig     MessageKind = 5
	KindReleaseConfig      MessageKind = 6
	KindGetConfigDiagnostics MessageKind = 7
	KindGetResolvedConfig  MessageKind = 8
	KindFormatText         MessageKind = 9
	KindCancelFormat       MessageKind = 10
	KindHostFormatResponse MessageKind = 11
)

// ResponseKind enumerates the plugin->host response discriminators.
type ResponseKind uint32

const (
	RespSuccess    ResponseKind = 0
	RespError      ResponseKind = 1
	RespHostFormat ResponseKind = 2
)

// HostFormatResultKind enumerates the three outcomes of a host-format
// callback response (spec.md §4.3 kind 11 body).
type HostFormatResultKind uint32

const (
	HostFormatNoChange HostFormatResultKind = 0
	HostFormatChange   HostFormatResultKind = 1
	HostFormatError    HostFormatResultKind = 2
)

const successSentinel uint32 = 0xFFFFFFFF

// chunkThreshold is the payload size above which a sized-bytes transfer is
// split into acknowledged chunks, per spec.md §4.3.
const chunkThreshold = 1024

// Request is a single host->plugin message.
type Request struct {
	ID   uint32
	Kind MessageKind

	// RegisterConfig
	ConfigID      uint32
	GlobalConfig  []byte
	PluginConfig  []byte

	// ReleaseConfig / GetConfigDiagnostics / GetResolvedConfig / CancelFormat
	// reuse ConfigID or TargetMessageID below.
	TargetMessageID uint32

	// FormatText
	FilePath       string
	StartByteIndex uint32
	EndByteIndex   uint32
	OverrideConfig []byte
	FileText       []byte

	// HostFormatResponse
	HostResultKind HostFormatResultKind
	HostResultData []byte
}

// Response is a single plugin->host message.
type Response struct {
	ID   uint32
	Kind ResponseKind

	// RespSuccess data payload (Acknowledge has empty Data).
	Data []byte
	// RespSuccess for FormatText specifically: FormatChanged distinguishes
	// "no data because unchanged" from "no data because acknowledge".
	IsFormatResult bool
	FormatChanged  bool

	// RespError
	ErrorText string

	// RespHostFormat (direction reversed: plugin asking host to format)
	HostFilePath       string
	HostStartByteIndex uint32
	HostEndByteIndex   uint32
	HostOverrideConfig []byte
	HostFileText       []byte
}

// Codec frames Requests/Responses over an underlying io.ReadWriter. A
// Codec is safe for concurrent Writes from multiple goroutines (guarded by
// a mutex) but reads are expected to be driven by a single reader loop, as
// in pkg/procplugin.
type Codec struct {
	r  *bufio.Reader
	w  io.Writer
	mu sync.Mutex
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{r: bufio.NewReader(rw), w: rw}
}

func NewCodecRW(r io.Reader, w io.Writer) *Codec {
	return &Codec{r: bufio.NewReader(r), w: w}
}

func (c *Codec) readU32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (c *Codec) writeU32Locked(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := c.w.Write(buf[:])
	return err
}

func (c *Codec) readSuccessBytes() error {
	v, err := c.readU32()
	if err != nil {
		return err
	}
	if v != successSentinel {
		return fmt.Errorf("wire: expected success sentinel, got %#x", v)
	}
	return nil
}

func (c *Codec) writeSuccessBytesLocked() error {
	return c.writeU32Locked(successSentinel)
}

// readSizedBytes reads a u32 length followed by that many bytes, handling
// the chunked-transfer-with-ack protocol for payloads over chunkThreshold.
func (c *Codec) readSizedBytes() ([]byte, error) {
	total, err := c.readU32()
	if err != nil {
		return nil, err
	}
	if total <= chunkThreshold {
		if total == 0 {
			return []byte{}, nil
		}
		buf := make([]byte, total)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	out := make([]byte, 0, total)
	for uint32(len(out)) < total {
		remaining := total - uint32(len(out))
		n := remaining
		if n > chunkThreshold {
			n = chunkThreshold
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return nil, err
		}
		out = append(out, buf...)
		if uint32(len(out)) < total {
			if err := c.ackChunk(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (c *Codec) ackChunk() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeU32Locked(successSentinel)
}

func (c *Codec) writeSizedBytesLocked(data []byte) error {
	if err := c.writeU32Locked(uint32(len(data))); err != nil {
		return err
	}
	total := uint32(len(data))
	if total <= chunkThreshold {
		_, err := c.w.Write(data)
		return err
	}
	for off := uint32(0); off < total; {
		end := off + chunkThreshold
		if end > total {
			end = total
		}
		if _, err := c.w.Write(data[off:end]); err != nil {
			return err
		}
		off = end
		if off < total {
			if err := c.readAckLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Codec) readAckLocked() error {
	v, err := c.readU32()
	if err != nil {
		return err
	}
	if v != successSentinel {
		return fmt.Errorf("wire: expected chunk ack, got %#x", v)
	}
	return nil
}

// ReadRequest blocks for the next framed Request on the wire.
func (c *Codec) ReadRequest() (*Request, error) {
	id, err := c.readU32()
	if err != nil {
		return nil, err
	}
	kindRaw, err := c.readU32()
	if err != nil {
		return nil, err
	}
	req := &Request{ID: id, Kind: MessageKind(kindRaw)}
	switch req.Kind {
	case KindClose, KindIsAlive, KindGetPluginInfo, KindGetLicenseText:
		// no body
	case KindRegisterConfig:
		if req.ConfigID, err = c.readU32(); err != nil {
			return nil, err
		}
		if req.GlobalConfig, err = c.readSizedBytes(); err != nil {
			return nil, err
		}
		if req.PluginConfig, err = c.readSizedBytes(); err != nil {
			return nil, err
		}
	case KindReleaseConfig, KindGetConfigDiagnostics, KindGetResolvedConfig:
		if req.TargetMessageID, err = c.readU32(); err != nil {
			return nil, err
		}
	case KindFormatText:
		pathBytes, err2 := c.readSizedBytes()
		if err2 != nil {
			return nil, err2
		}
		req.FilePath = string(pathBytes)
		if req.StartByteIndex, err = c.readU32(); err != nil {
			return nil, err
		}
		if req.EndByteIndex, err = c.readU32(); err != nil {
			return nil, err
		}
		if req.ConfigID, err = c.readU32(); err != nil {
			return nil, err
		}
		if req.OverrideConfig, err = c.readSizedBytes(); err != nil {
			return nil, err
		}
		if req.FileText, err = c.readSizedBytes(); err != nil {
			return nil, err
		}
	case KindCancelFormat:
		if req.TargetMessageID, err = c.readU32(); err != nil {
			return nil, err
		}
	case KindHostFormatResponse:
		kindRaw, err2 := c.readU32()
		if err2 != nil {
			return nil, err2
		}
		req.HostResultKind = HostFormatResultKind(kindRaw)
		switch req.HostResultKind {
		case HostFormatChange, HostFormatError:
			if req.HostResultData, err = c.readSizedBytes(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("wire: unknown message kind %d", kindRaw)
	}
	if err := c.readSuccessBytes(); err != nil {
		return nil, err
	}
	return req, nil
}

// WriteRequest frames and sends req, terminating with the success
// sentinel.
func (c *Codec) WriteRequest(req *Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeU32Locked(req.ID); err != nil {
		return err
	}
	if err := c.writeU32Locked(uint32(req.Kind)); err != nil {
		return err
	}
	switch req.Kind {
	case KindClose, KindIsAlive, KindGetPluginInfo, KindGetLicenseText:
	case KindRegisterConfig:
		if err := c.writeU32Locked(req.ConfigID); err != nil {
			return err
		}
		if err := c.writeSizedBytesLocked(req.GlobalConfig); err != nil {
			return err
		}
		if err := c.writeSizedBytesLocked(req.PluginConfig); err != nil {
			return err
		}
	case KindReleaseConfig, KindGetConfigDiagnostics, KindGetResolvedConfig:
		if err := c.writeU32Locked(req.TargetMessageID); err != nil {
			return err
		}
	case KindFormatText:
		if err := c.writeSizedBytesLocked([]byte(req.FilePath)); err != nil {
			return err
		}
		start, end := req.StartByteIndex, req.EndByteIndex
		if start == 0 && end == 0 && len(req.FileText) > 0 {
			end = uint32(len(req.FileText))
		}
		if err := c.writeU32Locked(start); err != nil {
			return err
		}
		if err := c.writeU32Locked(end); err != nil {
			return err
		}
		if err := c.writeU32Locked(req.ConfigID); err != nil {
			return err
		}
		if err := c.writeSizedBytesLocked(req.OverrideConfig); err != nil {
			return err
		}
		if err := c.writeSizedBytesLocked(req.FileText); err != nil {
			return err
		}
	case KindCancelFormat:
		if err := c.writeU32Locked(req.TargetMessageID); err != nil {
			return err
		}
	case KindHostFormatResponse:
		if err := c.writeU32Locked(uint32(req.HostResultKind)); err != nil {
			return err
		}
		switch req.HostResultKind {
		case HostFormatChange, HostFormatError:
			if err := c.writeSizedBytesLocked(req.HostResultData); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("wire: unknown message kind %d", req.Kind)
	}
	return c.writeSuccessBytesLocked()
}

// ReadResponse blocks for the next framed Response. respIsFormatText tells
// the decoder whether a bare RespSuccess with no further discriminator
// (GetPluginInfo/GetLicenseText/GetResolvedConfig/GetConfigDiagnostics
// style) should instead be parsed as the FormatText
// NoChange/Change(bytes) shape; callers of FormatText must pass true.
func (c *Codec) ReadResponse(respIsFormatText bool) (*Response, error) {
	id, err := c.readU32()
	if err != nil {
		return nil, err
	}
	kindRaw, err := c.readU32()
	if err != nil {
		return nil, err
	}
	resp := &Response{ID: id, Kind: ResponseKind(kindRaw)}
	switch resp.Kind {
	case RespSuccess:
		if respIsFormatText {
			resp.IsFormatResult = true
			changedRaw, err2 := c.readU32()
			if err2 != nil {
				return nil, err2
			}
			if changedRaw == uint32(HostFormatChange) {
				resp.FormatChanged = true
				if resp.Data, err = c.readSizedBytes(); err != nil {
					return nil, err
				}
			}
		} else {
			if resp.Data, err = c.readSizedBytes(); err != nil {
				return nil, err
			}
		}
	case RespError:
		textBytes, err2 := c.readSizedBytes()
		if err2 != nil {
			return nil, err2
		}
		resp.ErrorText = string(textBytes)
	case RespHostFormat:
		pathBytes, err2 := c.readSizedBytes()
		if err2 != nil {
			return nil, err2
		}
		resp.HostFilePath = string(pathBytes)
		if resp.HostStartByteIndex, err = c.readU32(); err != nil {
			return nil, err
		}
		if resp.HostEndByteIndex, err = c.readU32(); err != nil {
			return nil, err
		}
		if resp.HostOverrideConfig, err = c.readSizedBytes(); err != nil {
			return nil, err
		}
		if resp.HostFileText, err = c.readSizedBytes(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown response kind %d", kindRaw)
	}
	if err := c.readSuccessBytes(); err != nil {
		return nil, err
	}
	return resp, nil
}

// WriteResponse frames and sends resp.
func (c *Codec) WriteResponse(resp *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeU32Locked(resp.ID); err != nil {
		return err
	}
	if err := c.writeU32Locked(uint32(resp.Kind)); err != nil {
		return err
	}
	switch resp.Kind {
	case RespSuccess:
		if resp.IsFormatResult {
			if resp.FormatChanged {
				if err := c.writeU32Locked(uint32(HostFormatChange)); err != nil {
					return err
				}
				if err := c.writeSizedBytesLocked(resp.Data); err != nil {
					return err
				}
			} else if err := c.writeU32Locked(uint32(HostFormatNoChange)); err != nil {
				return err
			}
		} else if err := c.writeSizedBytesLocked(resp.Data); err != nil {
			return err
		}
	case RespError:
		if err := c.writeSizedBytesLocked([]byte(resp.ErrorText)); err != nil {
			return err
		}
	case RespHostFormat:
		if err := c.writeSizedBytesLocked([]byte(resp.HostFilePath)); err != nil {
			return err
		}
		if err := c.writeU32Locked(resp.HostStartByteIndex); err != nil {
			return err
		}
		if err := c.writeU32Locked(resp.HostEndByteIndex); err != nil {
			return err
		}
		if err := c.writeSizedBytesLocked(resp.HostOverrideConfig); err != nil {
			return err
		}
		if err := c.writeSizedBytesLocked(resp.HostFileText); err != nil {
			return err
		}
	default:
		return fmt.Errorf("wire: unknown response kind %d", resp.Kind)
	}
	return c.writeSuccessBytesLocked()
}
