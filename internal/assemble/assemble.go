// Package assemble joins decrypted segment payloads into one audio stream.
package assemble

import (
	"bytes"
	"fmt"
)

// Assemble concatenates payloads in order with no separators.
func Assemble(payloads [][]byte) []byte {
	size := 0
	for _, p := range payloads {
		size += len(p)
	}

	var buf bytes.Buffer
	buf.Grow(size)
	for _, p := range payloads {
		buf.Write(p)
	}
	return buf.Bytes()
}

// Buffer accumulates payloads strictly in playlist order.
// The zero value is ready to use.
type Buffer struct {
	buf  bytes.Buffer
	next int
}

// Append adds the payload of segment index. Indices must arrive as 0, 1, 2, ...
func (b *Buffer) Append(index int, payload []byte) error {
	if index != b.next {
		return fmt.Errorf("segment %d appended out of order, expected %d", index, b.next)
	}
	b.buf.Write(payload)
	b.next++
	return nil
}

// Count returns the number of payloads appended.
func (b *Buffer) Count() int {
	return b.next
}

// Bytes returns the assembled stream.
func (b *Buffer) Bytes() []byte {
	return b.buf.Bytes()
}
