// Package playlist holds the in-memory model of a parsed HLS media playlist.
package playlist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agleyzer/hlsaudio/internal/segment"
)

// ErrSequenceRange is returned when a segment's absolute sequence number cannot be represented.
var ErrSequenceRange = errors.New("sequence number out of range")

// Playlist is an immutable, parsed media playlist.
// Segment order is declaration order and is the output byte order.
type Playlist struct {
	// StartSequence is the value of #EXT-X-MEDIA-SEQUENCE (0 when absent)
	StartSequence Sequence

	// TargetDuration is the maximum segment duration in seconds
	TargetDuration int

	// Segments are the media segments in playlist order
	Segments []segment.Segment
}

// Len returns the number of segments.
func (p *Playlist) Len() int {
	return len(p.Segments)
}

// AbsoluteSequence returns StartSequence + index for the segment at index.
func (p *Playlist) AbsoluteSequence(index int) (Sequence, error) {
	if index < 0 || index >= len(p.Segments) {
		return Sequence{}, fmt.Errorf("segment index %d out of bounds [0,%d)", index, len(p.Segments))
	}
	seq, ok := p.StartSequence.Add(uint64(index))
	if !ok {
		return Sequence{}, fmt.Errorf("%w: %s + %d exceeds 16-byte IV range", ErrSequenceRange, p.StartSequence, index)
	}
	return seq, nil
}

// BaseLocation returns the directory portion of the first key URI found,
// scanning segments in order. A key URI without a directory yields "", which
// still counts as found. The second result is false when no segment carries a key.
func (p *Playlist) BaseLocation() (string, bool) {
	for i := 0; i < len(p.Segments); i++ {
		if p.Segments[i].KeyURI == "" {
			continue
		}
		return ParentLocation(p.Segments[i].KeyURI), true
	}
	return "", false
}

// ParentLocation drops the last slash-separated component of a location.
// "https://h/a/key.bin" becomes "https://h/a"; "key.bin" becomes "".
func ParentLocation(location string) string {
	i := strings.LastIndex(location, "/")
	if i < 0 {
		return ""
	}
	return location[:i]
}

// KeyURIs returns the distinct key URIs in first-use order.
func (p *Playlist) KeyURIs() []string {
	var uris []string
	seen := make(map[string]bool)
	for _, seg := range p.Segments {
		if seg.KeyURI == "" || seen[seg.KeyURI] {
			continue
		}
		seen[seg.KeyURI] = true
		uris = append(uris, seg.KeyURI)
	}
	return uris
}
