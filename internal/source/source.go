// Package source retrieves raw bytes for playlist, segment and key locations.
//
// A location is either an absolute URL (scheme and host present) or a local path.
// HTTP(S) URLs are fetched over the network, s3:// URLs from object storage,
// and everything else is read from the local filesystem.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrRetrieval is returned when a location cannot be fetched.
var ErrRetrieval = errors.New("retrieval failed")

// ErrLocalAccess is returned by DenyLocal for local paths.
var ErrLocalAccess = errors.New("local file access denied")

// Source fetches the complete content of a location.
type Source interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// Func adapts a function to the Source interface.
type Func func(ctx context.Context, location string) ([]byte, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f(ctx, location)
}

// DenyLocal wraps src so that local paths and file:// URLs are refused
// before they reach it.
func DenyLocal(src Source) Source {
	return Func(func(ctx context.Context, location string) ([]byte, error) {
		if Scheme(location) == "file" {
			return nil, fmt.Errorf("%w: %s", ErrLocalAccess, location)
		}
		return src.Fetch(ctx, location)
	})
}

// IsURL reports whether location is an absolute URL with both a scheme and a host.
func IsURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// Scheme returns the lowercase URL scheme of location, or "file" for local paths.
func Scheme(location string) string {
	if !IsURL(location) {
		return "file"
	}
	u, _ := url.Parse(location)
	return strings.ToLower(u.Scheme)
}

// Resolve joins a possibly relative reference to a base location.
// Absolute URLs and an empty base return ref unchanged. URL bases are treated
// as directories; path bases use filepath.Join.
func Resolve(base, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty location")
	}

	if IsURL(ref) || base == "" {
		return ref, nil
	}

	if IsURL(base) {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("invalid base URL: %w", err)
		}
		if !strings.HasSuffix(b.Path, "/") {
			b.Path += "/"
			b.RawPath = ""
		}

		rel, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("invalid relative URL: %w", err)
		}

		return b.ResolveReference(rel).String(), nil
	}

	if filepath.IsAbs(ref) {
		return ref, nil
	}

	return filepath.Join(base, ref), nil
}

// Dir returns the directory of a playlist location, suitable as a base.
func Dir(location string) string {
	if IsURL(location) {
		u, err := url.Parse(location)
		if err != nil {
			return ""
		}
		u.RawQuery = ""
		u.Fragment = ""
		i := strings.LastIndex(u.Path, "/")
		if i < 0 {
			u.Path = ""
		} else {
			u.Path = u.Path[:i]
		}
		u.RawPath = ""
		return u.String()
	}
	return filepath.Dir(location)
}
