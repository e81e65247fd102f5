package source

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Retry wraps src so that failed fetches are retried up to retries more times,
// doubling the wait after each failure. Cancellation stops retrying.
func Retry(src Source, retries int, backoff time.Duration, logger hclog.Logger) Source {
	if retries <= 0 {
		return src
	}

	return Func(func(ctx context.Context, location string) ([]byte, error) {
		delay := backoff
		var lastErr error

		for attempt := 0; attempt <= retries; attempt++ {
			data, err := src.Fetch(ctx, location)
			if err == nil {
				return data, nil
			}
			lastErr = err

			if ctx.Err() != nil || attempt == retries {
				break
			}

			logger.Debug("fetch failed, retrying",
				"location", location,
				"attempt", attempt+1,
				"retries", retries,
				"delay", delay,
				"error", err,
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			case <-timer.C:
			}
			delay *= 2
		}

		return nil, lastErr
	})
}
