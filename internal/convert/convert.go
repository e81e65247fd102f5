// Package convert reconstructs one audio stream from an HLS media playlist.
//
// A conversion parses the playlist, resolves the base location, fetches
// segments with bounded concurrency, and decrypts and appends them strictly
// in playlist order. Any failure aborts the conversion and no bytes are returned.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/agleyzer/hlsaudio/internal/assemble"
	"github.com/agleyzer/hlsaudio/internal/decrypt"
	"github.com/agleyzer/hlsaudio/internal/keys"
	"github.com/agleyzer/hlsaudio/internal/metrics"
	"github.com/agleyzer/hlsaudio/internal/parser"
	"github.com/agleyzer/hlsaudio/internal/playlist"
	"github.com/agleyzer/hlsaudio/internal/segment"
	"github.com/agleyzer/hlsaudio/internal/source"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// Options configures a Converter.
type Options struct {
	// BaseLocation overrides the base derived from the playlist
	BaseLocation string

	// FallbackBase is used when no key URI yields a base
	FallbackBase string

	// Concurrency is the number of segments fetched ahead (minimum 1)
	Concurrency int

	// Padding selects padding removal after decryption
	Padding decrypt.Padding

	// Progress is called after each segment is appended
	Progress func(done, total int)
}

// Converter runs conversions. It holds no per-conversion state and is safe
// for concurrent use.
type Converter struct {
	src    source.Source
	opts   Options
	logger hclog.Logger
}

// New creates a Converter that reads playlists, segments and keys from src.
func New(src source.Source, opts Options, logger hclog.Logger) *Converter {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Converter{
		src:    src,
		opts:   opts,
		logger: logger,
	}
}

type idKey struct{}

// WithID attaches a conversion ID to ctx. Conversions started without one get a random ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// IDFromContext returns the conversion ID attached by WithID.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey{}).(string)
	return id, ok
}

// Load fetches and parses the playlist at location.
func Load(ctx context.Context, src source.Source, location string) (*playlist.Playlist, error) {
	data, err := src.Fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("playlist: %w", err)
	}

	p, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("playlist %s: %w", location, err)
	}
	return p, nil
}

// Convert parses the playlist text in r and returns the assembled audio.
func (c *Converter) Convert(ctx context.Context, r io.Reader) ([]byte, error) {
	return c.execute(ctx, c.opts, func() (*playlist.Playlist, error) {
		return parser.Parse(r)
	})
}

// ConvertPlaylist converts an already parsed playlist.
func (c *Converter) ConvertPlaylist(ctx context.Context, p *playlist.Playlist) ([]byte, error) {
	return c.execute(ctx, c.opts, func() (*playlist.Playlist, error) {
		return p, nil
	})
}

// ConvertLocation loads the playlist at location and converts it.
// The playlist's own directory becomes the fallback base unless one is configured.
func (c *Converter) ConvertLocation(ctx context.Context, location string) ([]byte, error) {
	opts := c.opts
	if opts.FallbackBase == "" {
		opts.FallbackBase = source.Dir(location)
	}
	return c.execute(ctx, opts, func() (*playlist.Playlist, error) {
		return Load(ctx, c.src, location)
	})
}

// WithBase returns a copy of c using base as the explicit base location.
func (c *Converter) WithBase(base string) *Converter {
	clone := *c
	clone.opts.BaseLocation = base
	return &clone
}

// WrapSource returns a copy of c reading through wrap(src).
func (c *Converter) WrapSource(wrap func(source.Source) source.Source) *Converter {
	clone := *c
	clone.src = wrap(c.src)
	return &clone
}

func (c *Converter) execute(ctx context.Context, opts Options, load func() (*playlist.Playlist, error)) (out []byte, err error) {
	id, ok := IDFromContext(ctx)
	if !ok {
		id = uuid.NewString()
	}
	logger := c.logger.With("conversion", id)

	start := time.Now()
	defer func() {
		if err != nil && ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		metrics.RecordConversion(Kind(err), time.Since(start))
		if err != nil {
			logger.Debug("conversion state", "state", StateFailed, "kind", Kind(err))
		}
	}()

	logger.Debug("conversion state", "state", StateInit)

	p, err := load()
	if err != nil {
		return nil, err
	}
	logger.Debug("conversion state", "state", StateParsed,
		"segments", p.Len(),
		"media_sequence", p.StartSequence.String(),
	)

	sched, err := Plan(p, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("conversion state", "state", StateBaseResolved,
		"base", sched.Base,
		"origin", sched.Origin,
		"encrypted", sched.Encrypted(),
	)

	for _, step := range sched.Steps {
		if step.ExplicitIV != "" {
			logger.Warn("playlist declares an explicit IV; deriving IVs from sequence numbers instead",
				"segment", step.Index,
			)
			break
		}
	}

	out, err = c.run(ctx, opts, sched, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("conversion state", "state", StateDone,
		"bytes", len(out),
		"elapsed", time.Since(start),
	)
	return out, nil
}

// run fetches up to opts.Concurrency segments ahead of a single merge
// goroutine that decrypts and appends in order.
func (c *Converter) run(ctx context.Context, opts Options, sched *Schedule, logger hclog.Logger) ([]byte, error) {
	total := len(sched.Steps)
	cache := keys.NewCache(c.src, logger)

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]chan []byte, total)
	for i := range results {
		results[i] = make(chan []byte, 1)
	}
	slots := make(chan struct{}, concurrency)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for _, step := range sched.Steps {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			g.Go(func() error {
				data, err := c.src.Fetch(ctx, step.Location)
				if err != nil {
					return &SegmentError{Index: step.Index, Location: step.Location, Err: err}
				}
				logger.Trace("segment state", "segment", step.Index, "state", StateFetched, "size", len(data))
				results[step.Index] <- data
				return nil
			})
		}
		return nil
	})

	var buf assemble.Buffer
	g.Go(func() error {
		for i, step := range sched.Steps {
			var data []byte
			select {
			case data = <-results[i]:
			case <-ctx.Done():
				return ctx.Err()
			}
			<-slots

			plain, err := c.decryptStep(ctx, cache, opts, step, data, logger)
			if err != nil {
				return err
			}
			if err := buf.Append(step.Index, plain); err != nil {
				return err
			}
			logger.Trace("segment state", "segment", step.Index, "state", StateDecrypted)

			if opts.Progress != nil {
				opts.Progress(i+1, total)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("conversion state", "state", StateAssembled,
		"segments", buf.Count(),
		"key_fetches", cache.Fetches(),
	)
	return buf.Bytes(), nil
}

func (c *Converter) decryptStep(ctx context.Context, cache *keys.Cache, opts Options, step Step, data []byte, logger hclog.Logger) ([]byte, error) {
	var key, iv []byte
	if step.Method == segment.MethodAES128 {
		if step.KeyLocation == "" {
			return nil, &SegmentError{Index: step.Index, Location: step.Location, Err: decrypt.ErrMissingKey}
		}

		var err error
		key, err = cache.Resolve(ctx, step.KeyLocation)
		if err != nil {
			return nil, &SegmentError{Index: step.Index, Location: step.KeyLocation, Err: err}
		}
		logger.Trace("segment state", "segment", step.Index, "state", StateKeyReady)

		iv = keys.DeriveIV(step.Sequence)
	}

	plain, err := decrypt.Decrypt(step.Method, data, key, iv, opts.Padding)
	if err != nil {
		return nil, &SegmentError{Index: step.Index, Location: step.Location, Err: err}
	}
	return plain, nil
}
