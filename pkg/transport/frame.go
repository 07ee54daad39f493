package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame payload. A peer declaring more than
// this is treated as closed rather than allocated for.
const maxFrameSize = 1024 * 1024 // 1MB

// ErrClosed signals that the peer closed, or the channel became unusable
// (short read, oversized or malformed frame). Callers abandon the channel
// on ErrClosed; it is never repaired in place.
var ErrClosed = errors.New("transport: connection closed")

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// payload. The payload write loops until complete, so a partial write on
// the underlying channel does not truncate the frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	for written := 0; written < len(payload); {
		n, err := w.Write(payload[written:])
		if err != nil {
			return fmt.Errorf("failed to write frame payload: %w", err)
		}
		written += n
	}
	return nil
}

// ReadFrame reads exactly one frame. Any short read at end-of-stream, before
// the 4-byte length or before the declared payload length, returns ErrClosed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, ErrClosed
	}
	if length > maxFrameSize {
		return nil, ErrClosed
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrClosed
	}
	return payload, nil
}

// Send JSON-encodes a wire record and writes it as one frame.
func Send(w io.Writer, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return WriteFrame(w, payload)
}

// Recv reads one frame and decodes it into record. A frame that does not
// decode is reported as ErrClosed: the channel is abandoned, not repaired.
func Recv(r io.Reader, record any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, record); err != nil {
		return ErrClosed
	}
	return nil
}
