package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultFetchTimeout  = 10 * time.Second
	defaultDocumentLimit = 1 << 20
	defaultCacheTTL      = 5 * time.Minute
	cacheKeyPrefix       = "agricert:vc:"
)

// ErrFetch is returned when a retrieval URL cannot be dereferenced
var ErrFetch = errors.New("credential retrieval failed")

// Fetcher dereferences a credential retrieval URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPDoer is satisfied by *http.Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFetcher fetches credential documents with a plain GET
type HTTPFetcher struct {
	client HTTPDoer
	limit  int64
}

// NewHTTPFetcher creates an HTTPFetcher; a nil client gets a default with a timeout
func NewHTTPFetcher(client HTTPDoer) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &HTTPFetcher{client: client, limit: defaultDocumentLimit}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if int64(len(body)) > f.limit {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrFetch, f.limit)
	}
	return body, nil
}

// CachedFetcher keeps fetched documents in Redis for a short TTL. Redis
// failures fall through to the wrapped fetcher.
type CachedFetcher struct {
	next   Fetcher
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedFetcher wraps next with a Redis cache; ttl <= 0 uses five minutes
func NewCachedFetcher(next Fetcher, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedFetcher {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedFetcher{next: next, client: client, ttl: ttl, logger: logger}
}

func (f *CachedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := cacheKey(url)

	cached, err := f.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, redis.Nil):
		f.logger.Warn("Credential cache read failed", slog.String("error", err.Error()))
	}

	body, err := f.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := f.client.Set(ctx, key, body, f.ttl).Err(); err != nil {
		f.logger.Warn("Credential cache write failed", slog.String("error", err.Error()))
	}
	return body, nil
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
