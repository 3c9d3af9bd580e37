package protocol

import (
	"encoding/binary"
	"errors"
)

const (
	finBit   = 0x80
	rsvBits  = 0x70
	maskBit  = 0x80
	opMask   = 0x0F
	len7Mask = 0x7F

	len16Marker = 126
	len64Marker = 127

	// MaxPayloadSize is the default cap on a single frame's declared payload length.
	MaxPayloadSize = 16 * 1024 * 1024 // 16MB

	// maxHeaderSize covers 2 header bytes, an 8-byte extended length and a 4-byte mask key.
	maxHeaderSize = 14
)

// Opcode identifies the type of a frame (RFC 6455 section 5.2).
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether o is a control opcode.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// IsValid reports whether o is defined by RFC 6455.
func (o Opcode) IsValid() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Frame errors.
var (
	// ErrIncomplete means the buffer does not hold a whole frame yet. Nothing was consumed.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrClosed is returned as soon as a close frame header is seen.
	ErrClosed = errors.New("close frame received")
	// ErrFrameTooLarge is returned when the declared payload length exceeds the cap.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrUnmaskedFrame is returned for client frames without the mask bit.
	ErrUnmaskedFrame = errors.New("client frame is not masked")
	// ErrFragmented is returned for continuation frames and data frames with FIN unset.
	ErrFragmented = errors.New("fragmented frames not supported")
	// ErrReservedBits is returned when RSV1-3 are set; no extension is negotiated.
	ErrReservedBits = errors.New("reserved bits set without extension")
	// ErrInvalidOpcode is returned for opcodes RFC 6455 leaves undefined.
	ErrInvalidOpcode = errors.New("invalid opcode")
)

// FrameError carries the opcode of the frame that failed.
type FrameError struct {
	Err    error
	Opcode Opcode
}

func (e *FrameError) Error() string {
	return e.Opcode.String() + " frame: " + e.Err.Error()
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Frame is one decoded frame. Payload is already unmasked and owned by the caller.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// Encode wraps text in a single unmasked, unfragmented text frame.
func Encode(text []byte) []byte {
	return EncodeFrame(OpText, text)
}

// EncodeFrame builds a single unmasked frame with FIN set. Server frames are never masked.
func EncodeFrame(op Opcode, payload []byte) []byte {
	n := len(payload)
	out := make([]byte, 0, headerSize(n)+n)
	out = append(out, finBit|byte(op))

	switch {
	case n < len16Marker:
		out = append(out, byte(n))
	case n < 1<<16:
		out = append(out, len16Marker)
		out = binary.BigEndian.AppendUint16(out, uint16(n))
	default:
		out = append(out, len64Marker)
		out = binary.BigEndian.AppendUint64(out, uint64(n))
	}

	return append(out, payload...)
}

// EncodeClose builds a close frame carrying a status code and an optional reason.
func EncodeClose(code int, reason string) []byte {
	// control frame payloads are limited to 125 bytes
	if len(reason) > 123 {
		reason = reason[:123]
	}
	payload := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	payload = append(payload, reason...)
	return EncodeFrame(OpClose, payload)
}

// Decode decodes one frame from the start of buf using MaxPayloadSize as cap.
func Decode(buf []byte) (Frame, int, error) {
	return DecodeLimit(buf, MaxPayloadSize)
}

// DecodeLimit decodes one frame from the start of buf and returns it along with
// the number of bytes it occupied.
//
// It returns ErrIncomplete (consuming nothing) until buf holds the whole frame,
// ErrClosed as soon as a close opcode is seen, and a FrameError wrapping
// ErrFrameTooLarge when the declared length exceeds limit. The length check
// happens before the payload is awaited, so a caller never buffers an
// oversized frame. A limit <= 0 means MaxPayloadSize.
func DecodeLimit(buf []byte, limit int) (Frame, int, error) {
	if limit <= 0 {
		limit = MaxPayloadSize
	}
	if len(buf) < 2 {
		return Frame{}, 0, ErrIncomplete
	}

	f := Frame{
		Fin:    buf[0]&finBit != 0,
		Opcode: Opcode(buf[0] & opMask),
		Masked: buf[1]&maskBit != 0,
	}
	if f.Opcode == OpClose {
		return f, 0, ErrClosed
	}
	if buf[0]&rsvBits != 0 {
		return f, 0, &FrameError{Err: ErrReservedBits, Opcode: f.Opcode}
	}

	length := uint64(buf[1] & len7Mask)
	off := 2
	switch length {
	case len16Marker:
		if len(buf) < off+2 {
			return Frame{}, 0, ErrIncomplete
		}
		length = uint64(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	case len64Marker:
		if len(buf) < off+8 {
			return Frame{}, 0, ErrIncomplete
		}
		length = binary.BigEndian.Uint64(buf[off:])
		off += 8
	}

	if length > uint64(limit) {
		return f, 0, &FrameError{Err: ErrFrameTooLarge, Opcode: f.Opcode}
	}

	var key [4]byte
	if f.Masked {
		if len(buf) < off+4 {
			return Frame{}, 0, ErrIncomplete
		}
		copy(key[:], buf[off:off+4])
		off += 4
	}

	n := int(length)
	if len(buf)-off < n {
		return Frame{}, 0, ErrIncomplete
	}

	f.Payload = make([]byte, n)
	copy(f.Payload, buf[off:off+n])
	if f.Masked {
		Mask(f.Payload, key)
	}
	return f, off + n, nil
}

// Mask XORs b in place with key, byte i with key[i%4]. Applying it twice restores b.
func Mask(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

func headerSize(n int) int {
	switch {
	case n < len16Marker:
		return 2
	case n < 1<<16:
		return 4
	default:
		return 10
	}
}
