package provider

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Store failures are classified onto these sentinels so callers can branch
// without knowing the backend.
var (
	ErrNotFound            = errors.New("object not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrThrottled           = errors.New("request throttled")

	// ErrInvalidKey rejects keys that are empty or escape the store root.
	ErrInvalidKey = errors.New("invalid key")
)

// ProviderError records which store call failed on which object.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string
	Key      string
	Err      error
}

// Location is bucket/key, whichever parts are set.
func (e *ProviderError) Location() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{e.Bucket, e.Key} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Provider))
	b.WriteByte(' ')
	b.WriteString(e.Op)
	if loc := e.Location(); loc != "" {
		b.WriteString(": ")
		b.WriteString(loc)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether a store call that failed with err is worth
// another attempt: throttling, an unavailable backend, or a network timeout.
// Cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrProviderUnavailable) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
