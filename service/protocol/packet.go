package protocol

import (
	"encoding/binary"
	"encoding/json"
	"strings"

	errs "GProject/tools/errs"
)

// Packet types carried in the "type" discriminator of every JSON frame.
const (
	TypeCall     = "call"
	TypeCallback = "callback"
	TypeHTTP     = "http"
	TypeStream   = "stream"
)

// Stream control statuses. An absent status means "initialize".
const (
	StatusEnd       = "end"
	StatusTerminate = "terminate"
)

// RawArg is one positional argument, left undecoded until the handler
// knows its shape.
type RawArg = json.RawMessage

// Packet is the inbound wire message, a tagged union over
// call/callback/http/stream. Fields not belonging to the tagged variant
// are simply left at their zero value by the parser.
type Packet struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Path   []string          `json:"path,omitempty"`
	Name   string            `json:"name,omitempty"`
	Size   *int64            `json:"size,omitempty"`
	Status string            `json:"status,omitempty"`
}

// Parse decodes one JSON text frame. Unknown fields are tolerated.
func Parse(raw []byte) (*Packet, *errs.CodeError) {
	p := &Packet{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, errs.ErrParse.WithDetail(err.Error())
	}
	return p, nil
}

// Unit splits "unit/name" into its routing key parts.
func (p *Packet) Unit() (unit, method string, ok bool) {
	parts := strings.SplitN(p.Method, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ErrorPayload is the error half of a callback packet.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Callback is the outbound reply correlated to a call by ID.
type Callback struct {
	Type   string        `json:"type"`
	ID     int64         `json:"id"`
	Result any           `json:"result,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`
}

func NewCallback(id int64, result any) *Callback {
	return &Callback{Type: TypeCallback, ID: id, Result: result}
}

func NewErrorCallback(id int64, e *errs.CodeError) *Callback {
	return &Callback{
		Type: TypeCallback,
		ID:   id,
		Error: &ErrorPayload{
			Message: e.ClientMessage(),
			Code:    e.Code,
		},
	}
}

// ===== binary chunk framing =====
//
// WebSocket frames are already length-delimited, so a chunk frame is
// just a fixed header carrying the stream id followed by the payload.

const ChunkHeaderSize = 4

// EncodeChunk prefixes payload with the big-endian stream id.
func EncodeChunk(id uint32, payload []byte) []byte {
	frame := make([]byte, ChunkHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:ChunkHeaderSize], id)
	copy(frame[ChunkHeaderSize:], payload)
	return frame
}

// DecodeChunk splits a binary frame into stream id and payload. The
// payload aliases the frame buffer; callers copy if they retain it.
func DecodeChunk(frame []byte) (id uint32, payload []byte, err *errs.CodeError) {
	if len(frame) < ChunkHeaderSize {
		return 0, nil, errs.ErrChunkFrame
	}
	return binary.BigEndian.Uint32(frame[:ChunkHeaderSize]), frame[ChunkHeaderSize:], nil
}
