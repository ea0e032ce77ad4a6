// Package codec implements the length-prefixed wire framing shared by the
// device channel and the control channel: a 4-byte big-endian length prefix
// followed by that many bytes of Protocol Buffers payload.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single decoded frame. A misbehaving or corrupt peer
// cannot force an unbounded allocation.
const MaxFrameSize = 16 * 1024 * 1024

// Message is anything that can be framed: a hand-written protobuf message
// from internal/shared/protocol.
type Message interface {
	Marshal() ([]byte, error)
}

// Unmarshaler is implemented by the zero value of a Message type so a
// Decoder can produce one from a frame's bytes.
type Unmarshaler interface {
	Unmarshal([]byte) error
}

// Encoder writes length-prefixed frames to an underlying writer.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame containing msg's marshaled bytes.
func (e *Encoder) Encode(msg Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("codec: marshal: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("codec: frame too large: %d bytes", len(payload))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := e.w.Write(header[:]); err != nil {
		return fmt.Errorf("codec: write length: %w", err)
	}
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("codec: write payload: %w", err)
	}
	return nil
}

// Decoder reads length-prefixed frames from an underlying reader.
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads exactly one frame and unmarshals it into msg.
func (d *Decoder) Decode(msg Unmarshaler) error {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return fmt.Errorf("codec: frame too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return fmt.Errorf("codec: read payload: %w", err)
	}

	if err := msg.Unmarshal(payload); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}
