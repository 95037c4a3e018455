package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the payload of a single frame. A peer announcing a
// larger frame is malformed and its connection must be closed.
const MaxFrameSize = 1 << 20

var (
	// ErrIncompleteFrame reports that the decoder does not yet hold a full
	// frame; already-buffered bytes are retained and the caller may feed
	// more input and retry.
	ErrIncompleteFrame = errors.New("protocol: incomplete frame")

	// ErrProtocol reports an unrecoverable framing or payload error.
	ErrProtocol = errors.New("protocol: malformed frame")
)

// EncodeFrame serializes v as JSON and prepends the 4-byte big-endian length
// of the payload. The length counts payload bytes only, never the prefix.
func EncodeFrame(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrProtocol, len(payload))
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}

// Decoder incrementally accumulates bytes read from a connection and yields
// complete frames. It is the caller-supplied partial buffer of the protocol;
// the codec itself is stateless per call.
type Decoder struct {
	buf []byte
}

// Write appends freshly read bytes to the decoder's buffer.
func (d *Decoder) Write(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next decodes the next complete frame into v. It returns ErrIncompleteFrame
// when fewer bytes than a full frame are buffered, and ErrProtocol when the
// length prefix or payload is malformed.
func (d *Decoder) Next(v any) error {
	if len(d.buf) < 4 {
		return ErrIncompleteFrame
	}
	length := binary.BigEndian.Uint32(d.buf)
	if length == 0 || length > MaxFrameSize {
		return fmt.Errorf("%w: length %d", ErrProtocol, length)
	}
	total := 4 + int(length)
	if len(d.buf) < total {
		return ErrIncompleteFrame
	}
	if err := json.Unmarshal(d.buf[4:total], v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	d.buf = append(d.buf[:0], d.buf[total:]...)
	return nil
}

// ReadFrame blocks on r until one full frame has been read and decodes it
// into v. It is the blocking counterpart of Decoder, used by clients and
// tests.
func ReadFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 || length > MaxFrameSize {
		return fmt.Errorf("%w: length %d", ErrProtocol, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}
