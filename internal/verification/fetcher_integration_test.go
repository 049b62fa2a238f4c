//go:build integration

package verification

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/agricert/internal/testutil/containers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedFetcher_Redis(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	next := &countingFetcher{body: []byte(`{"id":"urn:uuid:1"}`)}
	f := NewCachedFetcher(next, rc.Client, time.Minute, testLogger())
	url := "https://issuer.test/credentials/urn:uuid:1"

	for i := 0; i < 3; i++ {
		body, err := f.Fetch(ctx, url)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"urn:uuid:1"}`, string(body))
	}
	assert.Equal(t, int32(1), next.calls.Load())

	ttl, err := rc.Client.TTL(ctx, cacheKey(url)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
