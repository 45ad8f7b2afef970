// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
)

// isRetryableSQLState reports whether a chunk failure is worth retrying at
// all. Constraint violations and syntax errors will fail identically on
// every attempt; transient lock/serialization states and anything that is
// not a server-reported error (network, driver) are retried.
func isRetryableSQLState(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		// Not a server-reported error: connection reset, timeout, driver
		// failure. Retry.
		return true
	}
	switch string(pqErr.Code) {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available (incl. lock_timeout)
		"53300", // too_many_connections
		"57P03": // cannot_connect_now
		return true
	default:
		return false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
