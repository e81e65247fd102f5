package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/agleyzer/hlsaudio/internal/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/minio/minio-go/v7"
)

// Router dispatches each location to the source that serves its scheme.
type Router struct {
	HTTP   Source
	File   Source
	Object Source // nil when object storage is not configured
}

// Fetch implements Source.
func (r *Router) Fetch(ctx context.Context, location string) ([]byte, error) {
	src, loc, err := r.route(location)
	if err != nil {
		return nil, err
	}
	return src.Fetch(ctx, loc)
}

func (r *Router) route(location string) (Source, string, error) {
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s: %w", ErrRetrieval, location, err)
		}
		return r.File, u.Path, nil
	}

	switch Scheme(location) {
	case "file":
		return r.File, location, nil
	case "http", "https":
		return r.HTTP, location, nil
	case storage.Scheme:
		if r.Object == nil {
			return nil, "", fmt.Errorf("%w: %s: object storage not configured", ErrRetrieval, location)
		}
		return r.Object, location, nil
	default:
		return nil, "", fmt.Errorf("%w: %s: unsupported scheme", ErrRetrieval, location)
	}
}

// Options configures the default source stack.
type Options struct {
	// Timeout bounds each HTTP fetch; zero disables it
	Timeout time.Duration
	// Headers are set on every HTTP request
	Headers map[string]string
	// Retries is the number of extra attempts after a failed fetch
	Retries int
	// Backoff is the wait before the first retry
	Backoff time.Duration
	// Objects serves s3:// locations when non-nil
	Objects *minio.Client
}

// New builds the default source: a Router over HTTP, file and object storage,
// with retries and metrics.
func New(opts Options, logger hclog.Logger) Source {
	router := &Router{
		HTTP: NewHTTP(opts.Timeout, opts.Headers),
		File: FileSource{},
	}
	if opts.Objects != nil {
		router.Object = NewObject(opts.Objects)
	}

	return Retry(Instrument(router), opts.Retries, opts.Backoff, logger)
}
