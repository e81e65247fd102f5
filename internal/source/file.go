package source

import (
	"context"
	"fmt"
	"os"
)

// FileSource reads local files.
type FileSource struct{}

// Fetch reads the file at location.
func (FileSource) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrieval, location, err)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	return data, nil
}
