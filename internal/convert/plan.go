package convert

import (
	"fmt"
	"path/filepath"

	"github.com/agleyzer/hlsaudio/internal/playlist"
	"github.com/agleyzer/hlsaudio/internal/segment"
	"github.com/agleyzer/hlsaudio/internal/source"
)

// BaseOrigin records where the base location of a conversion came from.
type BaseOrigin int

const (
	BaseNone BaseOrigin = iota
	BaseExplicit
	BaseKey
	BaseFallback
)

func (o BaseOrigin) String() string {
	switch o {
	case BaseExplicit:
		return "explicit"
	case BaseKey:
		return "key"
	case BaseFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Step is one segment with every location resolved.
type Step struct {
	Index       int
	Sequence    playlist.Sequence
	Location    string
	Method      segment.Method
	KeyLocation string
	// ExplicitIV is the IV attribute from the playlist; it is not used
	ExplicitIV string
}

// Schedule is the resolved work of one conversion.
type Schedule struct {
	Base   string
	Origin BaseOrigin
	Steps  []Step
}

// Encrypted returns the number of AES-128 steps.
func (s *Schedule) Encrypted() int {
	n := 0
	for _, step := range s.Steps {
		if step.Method == segment.MethodAES128 {
			n++
		}
	}
	return n
}

// Plan resolves the base location and every segment and key location of p
// without fetching anything.
func Plan(p *playlist.Playlist, opts Options) (*Schedule, error) {
	base, origin := resolveBase(p, opts)

	keyBase := opts.BaseLocation
	if keyBase == "" {
		keyBase = opts.FallbackBase
	}

	sched := &Schedule{
		Base:   base,
		Origin: origin,
		Steps:  make([]Step, 0, p.Len()),
	}

	for i, seg := range p.Segments {
		seq, err := p.AbsoluteSequence(i)
		if err != nil {
			return nil, &SegmentError{Index: i, Location: seg.URI, Err: err}
		}

		if origin == BaseNone && isRelative(seg.URI) {
			return nil, &SegmentError{Index: i, Location: seg.URI, Err: ErrNoBaseLocation}
		}

		location, err := source.Resolve(base, seg.URI)
		if err != nil {
			return nil, &SegmentError{Index: i, Location: seg.URI, Err: fmt.Errorf("%w: %w", ErrNoBaseLocation, err)}
		}

		step := Step{
			Index:      i,
			Sequence:   seq,
			Location:   location,
			Method:     seg.Method,
			ExplicitIV: seg.IV,
		}

		if seg.KeyURI != "" {
			step.KeyLocation, err = source.Resolve(keyBase, seg.KeyURI)
			if err != nil {
				return nil, &SegmentError{Index: i, Location: seg.KeyURI, Err: fmt.Errorf("%w: %w", ErrNoBaseLocation, err)}
			}
		}

		sched.Steps = append(sched.Steps, step)
	}

	return sched, nil
}

// resolveBase applies the precedence explicit, key-derived, fallback.
func resolveBase(p *playlist.Playlist, opts Options) (string, BaseOrigin) {
	if opts.BaseLocation != "" {
		return opts.BaseLocation, BaseExplicit
	}

	// A key URI without a directory gives "", the working directory.
	if derived, ok := p.BaseLocation(); ok {
		if isRelative(derived) && opts.FallbackBase != "" {
			if derived == "" {
				return opts.FallbackBase, BaseKey
			}
			if joined, err := source.Resolve(opts.FallbackBase, derived); err == nil {
				return joined, BaseKey
			}
		}
		return derived, BaseKey
	}

	if opts.FallbackBase != "" {
		return opts.FallbackBase, BaseFallback
	}

	return "", BaseNone
}

func isRelative(location string) bool {
	return !source.IsURL(location) && !filepath.IsAbs(location)
}
