// Package keys resolves the AES-128 key of a conversion and derives per-segment IVs.
package keys

import (
	"context"
	"fmt"
	"sync"

	"github.com/agleyzer/hlsaudio/internal/metrics"
	"github.com/agleyzer/hlsaudio/internal/playlist"
	"github.com/agleyzer/hlsaudio/internal/source"
	"github.com/hashicorp/go-hclog"
)

// IVSize is the length of a derived IV in bytes.
const IVSize = playlist.SequenceSize

// DeriveIV returns the 16-byte big-endian encoding of an absolute sequence number,
// the implicit IV of AES-128 segments.
func DeriveIV(seq playlist.Sequence) []byte {
	iv := seq.Bytes()
	return iv[:]
}

// Cache holds the single key of one conversion.
//
// The first Resolve fetches the key and every later call returns it, whatever
// key URI it is given. Playlists that rotate keys are not supported.
// A Cache must not be shared between conversions.
type Cache struct {
	src    source.Source
	logger hclog.Logger

	mu      sync.Mutex
	key     []byte
	uri     string
	fetches int
	warned  bool
}

// NewCache creates an empty key cache reading from src.
func NewCache(src source.Source, logger hclog.Logger) *Cache {
	return &Cache{
		src:    src,
		logger: logger,
	}
}

// Resolve returns the conversion key, fetching it from location on first use.
// Concurrent callers block until the first fetch completes.
func (c *Cache) Resolve(ctx context.Context, location string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil {
		if location != c.uri && !c.warned {
			c.logger.Warn("playlist uses more than one key URI; reusing the first key",
				"first", c.uri,
				"other", location,
			)
			c.warned = true
		}
		return c.key, nil
	}

	c.fetches++
	data, err := c.src.Fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("fetch key: %w", err)
	}
	metrics.RecordKeyFetch()

	c.logger.Debug("key fetched", "location", location, "size", len(data))

	c.key = data
	c.uri = location
	return c.key, nil
}

// Fetches returns how many times the key source was called.
func (c *Cache) Fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}
