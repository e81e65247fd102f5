package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/agleyzer/hlsaudio/internal/decrypt"
	"github.com/agleyzer/hlsaudio/internal/parser"
	"github.com/agleyzer/hlsaudio/internal/playlist"
	"github.com/agleyzer/hlsaudio/internal/source"
)

// ErrNoBaseLocation is returned when a segment URI is relative and no base
// location was supplied or could be derived from a key URI.
var ErrNoBaseLocation = errors.New("host location not set")

// ErrCancelled is returned when the caller's context ends before the conversion completes.
var ErrCancelled = errors.New("conversion cancelled")

// SegmentError attaches the failing segment to an error.
type SegmentError struct {
	Index    int
	Location string
	Err      error
}

func (e *SegmentError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("segment %d (%s): %v", e.Index, e.Location, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// Error kinds returned by Kind.
const (
	KindOK         = "ok"
	KindParse      = "parse"
	KindConfig     = "config"
	KindValue      = "value"
	KindRetrieval  = "retrieval"
	KindDenied     = "denied"
	KindDecryption = "decryption"
	KindCancelled  = "cancelled"
	KindInternal   = "internal"
)

// Kind classifies a conversion error. A nil error is KindOK.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, parser.ErrParse):
		return KindParse
	case errors.Is(err, ErrNoBaseLocation):
		return KindConfig
	case errors.Is(err, playlist.ErrSequenceRange):
		return KindValue
	case errors.Is(err, decrypt.ErrDecryption):
		return KindDecryption
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, source.ErrLocalAccess):
		return KindDenied
	case errors.Is(err, source.ErrRetrieval):
		return KindRetrieval
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
