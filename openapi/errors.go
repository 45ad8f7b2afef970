// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package openapi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed upstream call.
type ErrorKind int

const (
	// KindTransport covers timeouts, refused connections and other network errors.
	KindTransport ErrorKind = iota
	// KindHTTP is a non-200 HTTP status.
	KindHTTP
	// KindEmpty is a 200 response with an empty body.
	KindEmpty
	// KindMalformed is a body that is neither the JSON success envelope nor
	// the provider's XML error envelope.
	KindMalformed
	// KindAPIError is a well-formed envelope whose result code is not the
	// success sentinel.
	KindAPIError
	// KindRateLimited is the provider-side quota error (reason code 22).
	KindRateLimited
	// KindInvalidKey is an unregistered service key (reason code 30).
	KindInvalidKey
	// KindAccessDenied is a service access denial (reason code 20).
	KindAccessDenied
	// KindDisabledKey is an expired or disabled service key (reason code 31).
	KindDisabledKey
	// KindDailyLimit means the client-side daily call ceiling was reached.
	// No network I/O is performed.
	KindDailyLimit
	// KindCoolingDown means the client is inside a quota cool-down window.
	// No network I/O is performed.
	KindCoolingDown
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTP:
		return "http"
	case KindEmpty:
		return "empty"
	case KindMalformed:
		return "malformed"
	case KindAPIError:
		return "api_error"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidKey:
		return "invalid_key"
	case KindAccessDenied:
		return "access_denied"
	case KindDisabledKey:
		return "disabled_key"
	case KindDailyLimit:
		return "daily_limit"
	case KindCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// FetchError is the typed failure returned by Client.Fetch. Authorization and
// quota variants carry operator guidance; they are never retried by the client.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int    // set for KindHTTP
	Code       string // provider reason/result code, when present
	Message    string
	Guidance   string // operator guidance for permanent failures
	Err        error  // underlying error, when present
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("openapi: %s: %v", e.Kind, e.Err)
	case e.Code != "":
		return fmt.Sprintf("openapi: %s (code %s): %s", e.Kind, e.Code, e.Message)
	default:
		return fmt.Sprintf("openapi: %s: %s", e.Kind, e.Message)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the client's linear-backoff retry loop may retry
// this failure. Quota errors are handled by the cool-down instead, and
// authorization errors require operator intervention.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindEmpty, KindMalformed:
		return true
	case KindHTTP:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// Permanent reports whether the failure requires operator intervention for
// this provider (invalid, disabled, or denied service key).
func (e *FetchError) Permanent() bool {
	switch e.Kind {
	case KindInvalidKey, KindAccessDenied, KindDisabledKey:
		return true
	default:
		return false
	}
}

// AsFetchError unwraps err into a *FetchError when possible.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
