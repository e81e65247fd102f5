package source

import (
	"context"

	"github.com/agleyzer/hlsaudio/internal/metrics"
)

// Instrument records fetch counts and sizes for every call to src.
func Instrument(src Source) Source {
	return Func(func(ctx context.Context, location string) ([]byte, error) {
		data, err := src.Fetch(ctx, location)
		metrics.RecordFetch(Scheme(location), len(data), err)
		return data, err
	})
}
