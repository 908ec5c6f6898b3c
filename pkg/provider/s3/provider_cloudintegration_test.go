//go:build cloudintegration

package s3_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/test/cloudtest"
)

func TestStoreRoundTrip(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	bucket := cloudtest.CreateBucket(t, ctx)
	store := cloudtest.Store(t, ctx, bucket, "")

	key := "reports/org/acme/daily/2024-11-05T00-00Z/manifest.json"
	res, err := store.Put(ctx, key, []byte(`{"status":"success"}`), "application/json; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, key, res.Key)
	assert.Equal(t, "s3://"+bucket+"/"+key, res.URI)
	assert.EqualValues(t, 20, res.Size)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(got))

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := store.List(ctx, "reports/org/acme/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.True(t, provider.IsNotFound(err), "got %v", err)

	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreKeyPrefix(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObject(t, ctx, bucket, "other/_index/org/acme/daily/latest.json", []byte("{}"))

	store := cloudtest.Store(t, ctx, bucket, "tenant-a")
	_, err := store.Put(ctx, "_index/org/acme/daily/latest.json", []byte("{}"), "application/json")
	require.NoError(t, err)

	keys, err := store.List(ctx, "_index/")
	require.NoError(t, err)
	assert.Equal(t, []string{"_index/org/acme/daily/latest.json"}, keys)
}
