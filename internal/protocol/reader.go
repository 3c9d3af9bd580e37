package protocol

import (
	"errors"
	"io"
)

const initialReadBuffer = 4096

// Reader decodes client frames from a byte stream.
//
// Bytes are accumulated until DecodeLimit reports a whole frame. The buffer
// never grows past the payload cap plus the largest header, so a peer
// announcing a huge frame is rejected before its payload is buffered.
// Reader is not safe for concurrent use; it belongs to one connection's read loop.
type Reader struct {
	src        io.Reader
	limit      int
	buf        []byte
	start, end int
}

// NewReader returns a Reader over src. A limit <= 0 means MaxPayloadSize.
func NewReader(src io.Reader, limit int) *Reader {
	if limit <= 0 {
		limit = MaxPayloadSize
	}
	return &Reader{
		src:   src,
		limit: limit,
		buf:   make([]byte, min(initialReadBuffer, limit+maxHeaderSize)),
	}
}

// ReadFrame returns the next data or control frame sent by the client.
//
// Client frames must be masked; an unmasked frame yields ErrUnmaskedFrame.
// Fragmented data frames yield ErrFragmented. A close frame yields ErrClosed.
// Read errors from the underlying stream are returned unchanged.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		if r.end > r.start {
			f, n, err := DecodeLimit(r.buf[r.start:r.end], r.limit)
			if err == nil {
				r.start += n
				if r.start == r.end {
					r.start, r.end = 0, 0
				}
				return f, validateClientFrame(f)
			}
			if !errors.Is(err, ErrIncomplete) {
				return f, err
			}
		}

		if err := r.fill(); err != nil {
			return Frame{}, err
		}
	}
}

// Buffered returns the number of bytes read from the stream but not yet decoded.
func (r *Reader) Buffered() int {
	return r.end - r.start
}

func (r *Reader) fill() error {
	if r.start > 0 {
		copy(r.buf, r.buf[r.start:r.end])
		r.end -= r.start
		r.start = 0
	}

	if r.end == len(r.buf) {
		capacity := r.limit + maxHeaderSize
		if len(r.buf) >= capacity {
			return &FrameError{Err: ErrFrameTooLarge, Opcode: Opcode(r.buf[0] & opMask)}
		}
		grown := make([]byte, min(2*len(r.buf), capacity))
		copy(grown, r.buf[:r.end])
		r.buf = grown
	}

	n, err := r.src.Read(r.buf[r.end:])
	r.end += n
	if n > 0 {
		return nil
	}
	if err == nil {
		return io.ErrNoProgress
	}
	return err
}

func validateClientFrame(f Frame) error {
	switch {
	case !f.Opcode.IsValid():
		return &FrameError{Err: ErrInvalidOpcode, Opcode: f.Opcode}
	case !f.Masked:
		return &FrameError{Err: ErrUnmaskedFrame, Opcode: f.Opcode}
	case f.Opcode == OpContinuation || !f.Fin:
		return &FrameError{Err: ErrFragmented, Opcode: f.Opcode}
	}
	return nil
}
