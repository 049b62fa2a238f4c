package verification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"id":"urn:uuid:1"}`},
		{name: "not found", status: http.StatusNotFound, body: `{"error":"missing"}`, wantErr: true},
		{name: "too large", status: http.StatusOK, body: strings.Repeat("a", defaultDocumentLimit+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			body, err := NewHTTPFetcher(srv.Client()).Fetch(context.Background(), srv.URL+"/vc")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFetch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
		})
	}
}

type countingFetcher struct {
	calls atomic.Int32
	body  []byte
}

func (f *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	return f.body, nil
}

func TestCachedFetcher_RedisDownFallsThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	next := &countingFetcher{body: []byte(`{"id":"x"}`)}
	f := NewCachedFetcher(next, client, time.Minute, testLogger())

	for i := 0; i < 2; i++ {
		body, err := f.Fetch(context.Background(), "https://issuer.test/vc/x")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"x"}`, string(body))
	}
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCacheKey_IsStable(t *testing.T) {
	a := cacheKey("https://issuer.test/vc/1")
	assert.Equal(t, a, cacheKey("https://issuer.test/vc/1"))
	assert.NotEqual(t, a, cacheKey("https://issuer.test/vc/2"))
	assert.True(t, strings.HasPrefix(a, cacheKeyPrefix))
}
