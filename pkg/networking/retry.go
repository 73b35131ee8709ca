// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/umakit/pkg/logger"
)

// DefaultRetryInterval is the first delay of Retry's exponential backoff.
const DefaultRetryInterval = 500 * time.Millisecond

// Retry runs op up to retries+1 times with exponential backoff.
// 4xx responses are never retried; the provider has already rejected the request.
func Retry[T any](ctx context.Context, name string, retries int, op func() (T, error)) (T, error) {
	if retries <= 0 {
		return op()
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = DefaultRetryInterval
	expBackoff.MaxInterval = 20 * DefaultRetryInterval
	expBackoff.Reset()

	attempt := 0
	operation := func() (T, error) {
		attempt++
		out, err := op()
		if err != nil {
			if IsClientError(err) {
				return out, backoff.Permanent(err)
			}
			logger.Debugf("%s failed (attempt %d/%d): %v", name, attempt, retries+1, err)
			return out, err
		}
		return out, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(retries+1)), // #nosec G115 -- retries is small and non-negative
		backoff.WithNotify(func(_ error, d time.Duration) {
			logger.Debugf("retrying %s after %v", name, d)
		}),
	)
}
