// Package common defines shared constants and sentinel errors used across
// the storage engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Admission errors. The gate never returns these as Go errors; they are
	// carried as the Reason of a deny decision.
	ErrFormatRejected    = errors.New("unsupported format for tier")
	ErrSizeExceeded      = errors.New("file too large")
	ErrFileCountExceeded = errors.New("file count exceeded")
	ErrByteQuotaExceeded = errors.New("storage quota exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrFeatureRejected   = errors.New("feature not available for tier")

	// ErrQuotaExceededOnWrite is the only terminal failure of a local put:
	// eviction and payload optimization could not make room.
	ErrQuotaExceededOnWrite = errors.New("could not save locally: quota exceeded on write")

	// Remote mirroring errors.
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrSyncFailed         = errors.New("sync failed")

	// ErrIdentityResolutionFailed is logged and absorbed by the resolver's
	// fallback chain; it never reaches callers.
	ErrIdentityResolutionFailed = errors.New("identity resolution failed")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
