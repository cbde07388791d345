// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package retry repeats store operations with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// NewBackoff returns the backoff used by the store adapters by default.
func NewBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return b
}

// Do runs fn until it succeeds, returns an error that retryable rejects,
// the backoff gives up, or ctx is done. A nil retryable retries every error.
func Do(ctx context.Context, b backoff.BackOff, fn func(context.Context) error, retryable func(error) bool) error {
	b.Reset()
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
