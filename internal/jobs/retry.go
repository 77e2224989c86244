// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"time"

	"github.com/airwavehq/airwave/internal/library"
)

const (
	retryAttempts = 3
	retryBase     = 200 * time.Millisecond
)

// Retry runs fn up to three times, backing off exponentially between
// attempts. Only Transient errors are retried; anything else returns
// immediately.
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	delay := retryBase
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !library.IsTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
