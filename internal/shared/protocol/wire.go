// Package protocol defines the message catalogue shared by the device
// channel and the control channel, and hand-written Protocol Buffers
// marshaling built on the low-level primitives in
// google.golang.org/protobuf/encoding/protowire.
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendString(b, s)
	return b
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v))
	return b
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v))
	return b
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(v))
	return b
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func appendBytesField(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// consumeString reads a length-delimited UTF-8 string field value (the tag
// has already been consumed by the caller).
func consumeString(b []byte) (string, int) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return "", n
	}
	return string(v), n
}

func parseErrorf(field string, n int) error {
	return fmt.Errorf("protocol: malformed field %s: %w", field, protowire.ParseError(n))
}
