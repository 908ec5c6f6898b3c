package provider

import (
	"context"

	"github.com/3leaps/cadence/pkg/retry"
)

// Retrying wraps a Store and retries throttled or unavailable calls. Every
// other error is returned after the first attempt.
type Retrying struct {
	Store
	policy retry.Policy
}

var _ Store = (*Retrying)(nil)

// WithRetry wraps store so transient failures are retried under p. The
// policy's classifier is replaced with IsRetryable.
func WithRetry(store Store, p retry.Policy) *Retrying {
	p.Retryable = IsRetryable
	return &Retrying{Store: store, policy: p}
}

// Unwrap returns the wrapped store.
func (r *Retrying) Unwrap() Store { return r.Store }

func (r *Retrying) Put(ctx context.Context, key string, body []byte, contentType string) (*PutResult, error) {
	var res *PutResult
	err := retry.Do(ctx, r.policy, func(ctx context.Context) (err error) {
		res, err = r.Store.Put(ctx, key, body, contentType)
		return err
	})
	return res, err
}

func (r *Retrying) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, r.policy, func(ctx context.Context) (err error) {
		body, err = r.Store.Get(ctx, key)
		return err
	})
	return body, err
}

func (r *Retrying) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := retry.Do(ctx, r.policy, func(ctx context.Context) (err error) {
		ok, err = r.Store.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (r *Retrying) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := retry.Do(ctx, r.policy, func(ctx context.Context) (err error) {
		keys, err = r.Store.List(ctx, prefix)
		return err
	})
	return keys, err
}

func (r *Retrying) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.Store.Delete(ctx, key)
	})
}
