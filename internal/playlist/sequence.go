package playlist

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"math/bits"
	"strconv"
	"strings"
)

// SequenceSize is the width of a Sequence in bytes, the size of an AES-128 IV.
const SequenceSize = 16

// Sequence is an unsigned 128-bit media sequence number.
type Sequence struct {
	Hi, Lo uint64
}

// SequenceOf returns n as a Sequence.
func SequenceOf(n uint64) Sequence {
	return Sequence{Lo: n}
}

// ParseSequence parses a decimal sequence number. Values above 2^128-1
// return ErrSequenceRange.
func ParseSequence(text string) (Sequence, error) {
	if text == "" || strings.Trim(text, "0123456789") != "" {
		return Sequence{}, fmt.Errorf("invalid sequence number %q", text)
	}

	n, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return Sequence{}, fmt.Errorf("invalid sequence number %q", text)
	}
	if n.BitLen() > SequenceSize*8 {
		return Sequence{}, fmt.Errorf("%w: %s exceeds 16-byte IV range", ErrSequenceRange, text)
	}

	var buf [SequenceSize]byte
	n.FillBytes(buf[:])
	return Sequence{
		Hi: binary.BigEndian.Uint64(buf[:8]),
		Lo: binary.BigEndian.Uint64(buf[8:]),
	}, nil
}

// Add returns s+n. The second result is false when the sum exceeds 2^128-1.
func (s Sequence) Add(n uint64) (Sequence, bool) {
	lo, carry := bits.Add64(s.Lo, n, 0)
	hi, overflow := bits.Add64(s.Hi, 0, carry)
	return Sequence{Hi: hi, Lo: lo}, overflow == 0
}

// Bytes returns the big-endian encoding of s.
func (s Sequence) Bytes() [SequenceSize]byte {
	var buf [SequenceSize]byte
	binary.BigEndian.PutUint64(buf[:8], s.Hi)
	binary.BigEndian.PutUint64(buf[8:], s.Lo)
	return buf
}

func (s Sequence) String() string {
	if s.Hi == 0 {
		return strconv.FormatUint(s.Lo, 10)
	}
	buf := s.Bytes()
	return new(big.Int).SetBytes(buf[:]).String()
}
