package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cadence/pkg/output"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/provider/memory"
)

type deniedPut struct {
	provider.Store
}

func (deniedPut) Put(context.Context, string, []byte, string) (*provider.PutResult, error) {
	return nil, &provider.ProviderError{Op: "Put", Provider: "test", Err: provider.ErrAccessDenied}
}

type deniedList struct {
	provider.Store
}

func (deniedList) List(context.Context, string) ([]string, error) {
	return nil, &provider.ProviderError{Op: "List", Provider: "test", Err: provider.ErrBucketNotFound}
}

func capabilities(rep *Report) []string {
	out := make([]string, 0, len(rep.Results))
	for _, r := range rep.Results {
		out = append(out, r.Capability)
	}
	return out
}

func TestStoreReadSafe(t *testing.T) {
	rep, err := Store(context.Background(), memory.New(), "reports", ModeReadSafe)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, []string{CapList}, capabilities(rep))
	assert.Empty(t, rep.ProbeKey)
}

func TestStoreWriteProbe(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	rep, err := Store(ctx, store, "reports/", ModeWriteProbe)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, []string{CapList, CapWrite, CapRead, CapDelete}, capabilities(rep))
	assert.True(t, strings.HasPrefix(rep.ProbeKey, "reports/_cadence/preflight-"), rep.ProbeKey)

	left, err := store.List(ctx, "reports/_cadence/")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestStoreDenied(t *testing.T) {
	ctx := context.Background()

	t.Run("write denied", func(t *testing.T) {
		rep, err := Store(ctx, deniedPut{memory.New()}, "", ModeWriteProbe)
		require.Error(t, err)
		assert.False(t, rep.OK())
		require.Len(t, rep.Results, 2)
		last := rep.Results[1]
		assert.Equal(t, CapWrite, last.Capability)
		assert.Equal(t, output.ErrCodeAccessDenied, last.ErrorCode)
		assert.True(t, strings.HasPrefix(rep.ProbeKey, "_cadence/preflight-"))
	})

	t.Run("list denied stops early", func(t *testing.T) {
		rep, err := Store(ctx, deniedList{memory.New()}, "reports", ModeWriteProbe)
		require.Error(t, err)
		assert.Equal(t, []string{CapList}, capabilities(rep))
		assert.Equal(t, output.ErrCodeNotFound, rep.Results[0].ErrorCode)
	})
}

func TestErrorCode(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("op: %w", err) }
	tests := []struct {
		err  error
		want string
	}{
		{wrap(provider.ErrAccessDenied), output.ErrCodeAccessDenied},
		{wrap(provider.ErrInvalidCredentials), output.ErrCodeAccessDenied},
		{wrap(provider.ErrNotFound), output.ErrCodeNotFound},
		{wrap(provider.ErrBucketNotFound), output.ErrCodeNotFound},
		{wrap(provider.ErrThrottled), output.ErrCodeThrottled},
		{wrap(provider.ErrInvalidKey), output.ErrCodeInvalid},
		{errors.New("boom"), output.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
