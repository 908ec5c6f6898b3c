package provider_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/provider/memory"
	"github.com/3leaps/cadence/pkg/retry"
)

// flakyStore fails the first n calls with err.
type flakyStore struct {
	*memory.Provider
	err   error
	n     int
	calls int
}

func (s *flakyStore) Put(ctx context.Context, key string, body []byte, ct string) (*provider.PutResult, error) {
	s.calls++
	if s.calls <= s.n {
		return nil, &provider.ProviderError{Op: "Put", Provider: provider.ProviderMemory, Key: key, Err: s.err}
	}
	return s.Provider.Put(ctx, key, body, ct)
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.calls++
	if s.calls <= s.n {
		return nil, &provider.ProviderError{Op: "Get", Provider: provider.ProviderMemory, Key: key, Err: s.err}
	}
	return s.Provider.Get(ctx, key)
}

var fast = retry.Policy{MaxAttempts: 3, Initial: time.Millisecond}

func TestWithRetry_Put(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		failures  int
		wantErr   error
		wantCalls int
	}{
		{"throttled then ok", provider.ErrThrottled, 2, nil, 3},
		{"unavailable exhausts", provider.ErrProviderUnavailable, 5, provider.ErrProviderUnavailable, 3},
		{"access denied is not retried", provider.ErrAccessDenied, 5, provider.ErrAccessDenied, 1},
		{"invalid key is not retried", provider.ErrInvalidKey, 5, provider.ErrInvalidKey, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakyStore{Provider: memory.New(), err: tt.err, n: tt.failures}
			store := provider.WithRetry(inner, fast)

			res, err := store.Put(context.Background(), "a/b.json", []byte("{}"), provider.ContentTypeJSON)
			assert.Equal(t, tt.wantCalls, inner.calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a/b.json", res.Key)
		})
	}
}

func TestWithRetry_GetNotFoundFailsFast(t *testing.T) {
	inner := &flakyStore{Provider: memory.New()}
	store := provider.WithRetry(inner, fast)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, provider.IsNotFound(err))
	assert.Equal(t, 1, inner.calls)
	assert.Same(t, inner, store.Unwrap())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttled", fmt.Errorf("put: %w", provider.ErrThrottled), true},
		{"unavailable", &provider.ProviderError{Op: "Get", Err: provider.ErrProviderUnavailable}, true},
		{"network timeout", timeoutErr{}, true},
		{"not found", provider.ErrNotFound, false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("put: %w", context.DeadlineExceeded), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, provider.IsRetryable(tt.err))
		})
	}
}

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		err  *provider.ProviderError
		want string
	}{
		{&provider.ProviderError{Op: "Put", Provider: provider.ProviderS3, Bucket: "b", Key: "k", Err: provider.ErrThrottled}, "s3 Put: b/k: request throttled"},
		{&provider.ProviderError{Op: "Get", Provider: provider.ProviderFile, Key: "k", Err: provider.ErrNotFound}, "file Get: k: object not found"},
		{&provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Bucket: "b", Err: provider.ErrBucketNotFound}, "s3 New: b: bucket not found"},
		{&provider.ProviderError{Op: "List", Provider: provider.ProviderMemory, Err: provider.ErrInvalidKey}, "memory List: invalid key"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
