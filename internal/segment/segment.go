// Package segment defines data structures for HLS media segments.
package segment

import (
	"fmt"
	"strings"
)

// Method is the encryption method applied to a segment.
type Method int

const (
	// MethodNone marks a segment stored in the clear.
	MethodNone Method = iota
	// MethodAES128 marks a segment encrypted with AES-128 in CBC mode.
	MethodAES128
)

// String returns the playlist spelling of the method.
func (m Method) String() string {
	switch m {
	case MethodNone:
		return "NONE"
	case MethodAES128:
		return "AES-128"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod converts the METHOD attribute of an #EXT-X-KEY tag.
// An empty attribute is treated as NONE.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return MethodNone, nil
	case "AES-128":
		return MethodAES128, nil
	default:
		return MethodNone, fmt.Errorf("unsupported encryption method %q", s)
	}
}

// Segment represents a single HLS media segment.
type Segment struct {
	// URI is the segment location as written in the playlist (relative or absolute)
	URI string

	// Duration is the segment duration in seconds
	Duration float64

	// Method is the encryption method in effect for this segment
	Method Method

	// KeyURI is the key location in effect for this segment
	// Empty when Method is MethodNone
	KeyURI string

	// IV is the explicit IV attribute of the key tag, if any.
	// It is kept for diagnostics only; decryption always derives the IV from the sequence number.
	IV string
}

// Encrypted reports whether the segment needs decryption.
func (s Segment) Encrypted() bool {
	return s.Method != MethodNone
}
