// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import "time"

// Result is the immutable outcome of one Persist call. A Result with
// Failed > 0 is a normal, fully specified outcome, not an exception: callers
// inspect SuccessRate and Errors to decide whether to alert or re-run.
//
// Invariant: Successful + Failed == Total.
type Result struct {
	Total      int
	Successful int
	Failed     int
	Elapsed    time.Duration
	Errors     []string
}

// SuccessRate returns Successful/Total, or zero for an empty batch.
func (r *Result) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Successful) / float64(r.Total)
}

// RecordsPerSecond returns throughput over the elapsed wall time, or zero
// when no time elapsed.
func (r *Result) RecordsPerSecond() float64 {
	secs := r.Elapsed.Seconds()
	if secs == 0 {
		return 0
	}
	return float64(r.Successful) / secs
}
