package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"odds_harvester/config"
)

// Fetcher is the single primitive the resilient layer wraps: url in, page
// bytes out.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// NewFetcher selects the transport for the configured source.
func NewFetcher(cfg *config.FetchConfig) Fetcher {
	switch cfg.Kind {
	case "browser":
		return NewBrowserFetcher(cfg)
	default:
		return NewHTTPFetcher(cfg)
	}
}

// HTTPFetcher issues plain GETs with browser-like headers, optionally through
// a proxy.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(cfg *config.FetchConfig) *HTTPFetcher {
	transport := &http.Transport{}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
			transport.ForceAttemptHTTP2 = false
			transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
		}
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{URL: pageURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}
	return body, nil
}

// Stats are the fetch layer's running counters, aggregated into the run
// summary at finalize.
type Stats struct {
	mu           sync.Mutex
	PagesFetched int
	PagesFailed  int
	CacheHits    int
	Retries      int
}

func (s *Stats) snapshotLocked(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

func (s *Stats) Snapshot() (fetched, failed, cacheHits, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PagesFetched, s.PagesFailed, s.CacheHits, s.Retries
}

// Client composes cache, breaker, limiter and retry around a Fetcher.
// A cache hit bypasses the breaker and limiter entirely.
type Client struct {
	fetcher Fetcher
	breaker *Breaker
	gate    Gate
	cache   Cache

	maxWait      time.Duration
	maxRetries   int
	minBodyBytes int
	backoffBase  time.Duration

	stats Stats
	sleep func(context.Context, time.Duration) error
}

func NewClient(fetcher Fetcher, cfg *config.FetchConfig) *Client {
	var cache Cache
	if cfg.CacheDir != "" {
		if fc, err := NewFileCache(cfg.CacheDir, cfg.CacheTTL); err == nil {
			cache = fc
		} else {
			log.Printf("fetch: file cache unavailable (%v), using memory cache", err)
		}
	}
	if cache == nil {
		cache = NewMemoryCache(cfg.CacheTTL)
	}

	var gate Gate
	if cfg.MaxPerMinute > 0 || cfg.MaxPerHour > 0 {
		gate = NewLimiter(cfg.MaxPerMinute, cfg.MaxPerHour, cfg.MinDelay, cfg.Burst)
	} else {
		// Limiter unavailable: fall back to the fixed minimum-delay gate.
		gate = NewFixedDelayGate(cfg.MinDelay)
	}

	return &Client{
		fetcher:      fetcher,
		breaker:      NewBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout),
		gate:         gate,
		cache:        cache,
		maxWait:      cfg.MaxWait,
		maxRetries:   cfg.MaxRetries,
		minBodyBytes: cfg.MinBodyBytes,
		backoffBase:  time.Second,
		sleep:        sleepCtx,
	}
}

func (c *Client) Stats() *Stats { return &c.stats }

// Fetch returns page bytes for the URL, or a *CircuitOpenError,
// *TransportError, or *InvalidContentError.
func (c *Client) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if body, ok := c.cache.Get(pageURL); ok {
		c.stats.snapshotLocked(func() { c.stats.CacheHits++ })
		return body, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.stats.snapshotLocked(func() { c.stats.Retries++ })
			backoff := c.backoffBase * (1 << (attempt - 1))
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		body, err := c.attempt(ctx, pageURL)
		if err == nil {
			c.cache.Put(pageURL, body)
			c.stats.snapshotLocked(func() { c.stats.PagesFetched++ })
			return body, nil
		}

		lastErr = err
		if _, open := err.(*CircuitOpenError); open {
			break // fail fast, retrying cannot help until recovery
		}
	}

	c.stats.snapshotLocked(func() { c.stats.PagesFailed++ })
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, pageURL string) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	if err := c.gate.Acquire(ctx, c.maxWait); err != nil {
		return nil, &TransportError{URL: pageURL, Err: err}
	}

	body, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}

	if len(body) < c.minBodyBytes {
		c.breaker.RecordFailure()
		return nil, &InvalidContentError{URL: pageURL, Length: len(body)}
	}

	c.breaker.RecordSuccess()
	return body, nil
}
