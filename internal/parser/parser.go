// Package parser provides HLS media playlist parsing functionality.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agleyzer/hlsaudio/internal/playlist"
	"github.com/agleyzer/hlsaudio/internal/segment"
	"github.com/grafov/m3u8"
)

// ErrParse is returned when playlist text is not a valid media playlist.
var ErrParse = errors.New("invalid playlist")

// ParseString parses playlist text.
func ParseString(text string) (*playlist.Playlist, error) {
	return Parse(strings.NewReader(text))
}

// Parse reads a complete media playlist from r.
func Parse(r io.Reader) (*playlist.Playlist, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	if err := validateSegmentLines(data); err != nil {
		return nil, err
	}

	seq, data, err := extractMediaSequence(data)
	if err != nil {
		return nil, err
	}

	decoded, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if listType == m3u8.MASTER {
		return nil, fmt.Errorf("%w: master playlists are not supported", ErrParse)
	}

	mediaPlaylist, ok := decoded.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected playlist type", ErrParse)
	}

	// Keys carry over to later segments until replaced; METHOD=NONE clears them.
	var currentKey *m3u8.Key
	var segments []segment.Segment
	for i, seg := range mediaPlaylist.Segments {
		if seg == nil {
			break
		}

		if seg.Key != nil {
			currentKey = seg.Key
		}

		s := segment.Segment{
			URI:      seg.URI,
			Duration: seg.Duration,
		}

		if currentKey != nil {
			method, err := segment.ParseMethod(currentKey.Method)
			if err != nil {
				return nil, fmt.Errorf("%w: segment %d: %v", ErrParse, i, err)
			}
			s.Method = method
			if method == segment.MethodAES128 {
				s.KeyURI = currentKey.URI
				s.IV = currentKey.IV
			}
		}

		segments = append(segments, s)
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: playlist contains no segments", ErrParse)
	}

	return &playlist.Playlist{
		StartSequence:  seq,
		TargetDuration: int(mediaPlaylist.TargetDuration),
		Segments:       segments,
	}, nil
}

const mediaSequenceTag = "#EXT-X-MEDIA-SEQUENCE:"

// extractMediaSequence parses #EXT-X-MEDIA-SEQUENCE as a 128-bit value and
// returns the playlist without the tag, since the decoder holds only 64 bits.
// The last occurrence wins.
func extractMediaSequence(data []byte) (playlist.Sequence, []byte, error) {
	var seq playlist.Sequence
	var out bytes.Buffer
	out.Grow(len(data))

	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		trimmed := strings.TrimSpace(string(line))
		if !strings.HasPrefix(trimmed, mediaSequenceTag) {
			out.Write(line)
			continue
		}

		parsed, err := playlist.ParseSequence(strings.TrimSpace(strings.TrimPrefix(trimmed, mediaSequenceTag)))
		if errors.Is(err, playlist.ErrSequenceRange) {
			return playlist.Sequence{}, nil, fmt.Errorf("media sequence: %w", err)
		}
		if err != nil {
			return playlist.Sequence{}, nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		seq = parsed
	}

	return seq, out.Bytes(), nil
}

// validateSegmentLines rejects URI lines that are not introduced by #EXTINF.
// The decoder skips such lines, which would silently drop audio.
// It runs before decoding and also rejects master playlists early.
func validateSegmentLines(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	pendingInf := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			return fmt.Errorf("%w: master playlists are not supported", ErrParse)
		case strings.HasPrefix(line, "#EXTINF:"):
			if pendingInf {
				return fmt.Errorf("%w: line %d: #EXTINF without segment URI", ErrParse, lineNo)
			}
			pendingInf = true
		case strings.HasPrefix(line, "#"):
		default:
			if !pendingInf {
				return fmt.Errorf("%w: line %d: segment URI %q without #EXTINF", ErrParse, lineNo, line)
			}
			pendingInf = false
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if pendingInf {
		return fmt.Errorf("%w: trailing #EXTINF without segment URI", ErrParse)
	}

	return nil
}
