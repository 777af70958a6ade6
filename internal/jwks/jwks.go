// Package jwks fetches and caches client JSON Web Key Sets by URL.
package jwks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

// ErrKeyNotFound means the set was fetched but holds no key with the requested kid.
var ErrKeyNotFound = errors.New("key not found in JWKS")

// DefaultMinRefreshInterval bounds how often an unknown kid may force a
// refetch of the same URL.
const DefaultMinRefreshInterval = time.Minute

// fetchTimeout bounds background refreshes, which have no request to take a
// deadline from. Request-driven lookups are bounded by the caller's context.
const fetchTimeout = 10 * time.Second

// Cache keeps one auto-refreshing key set per URL. URLs are registered lazily
// on first use.
type Cache struct {
	cache      *jwk.Cache
	logger     *slog.Logger
	minRefresh time.Duration

	group       singleflight.Group
	mu          sync.RWMutex
	registered  map[string]bool
	refreshedAt map[string]time.Time
}

type Option func(*Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMinRefreshInterval sets the per-URL spacing of forced refreshes.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(c *Cache) {
		c.minRefresh = d
	}
}

// New starts the background refresher; it stops when ctx is cancelled.
func New(ctx context.Context, httpClient *http.Client, opts ...Option) (*Cache, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("create JWKS cache: %w", err)
	}
	c := &Cache{
		cache:       cache,
		logger:      slog.New(slog.DiscardHandler),
		minRefresh:  DefaultMinRefreshInterval,
		registered:  make(map[string]bool),
		refreshedAt: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) ensureRegistered(ctx context.Context, url string) error {
	if c.isRegistered(url) {
		return nil
	}

	_, err, _ := c.group.Do(url, func() (any, error) {
		if c.isRegistered(url) {
			return nil, nil
		}
		if err := c.cache.Register(ctx, url); err != nil {
			// Leave it unregistered so the next request retries the fetch.
			_ = c.cache.Unregister(context.WithoutCancel(ctx), url)
			return nil, fmt.Errorf("register JWKS %s: %w", url, err)
		}
		c.mu.Lock()
		c.registered[url] = true
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *Cache) isRegistered(url string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered[url]
}

// Fetch returns the cached key set for url, fetching it on first use.
func (c *Cache) Fetch(ctx context.Context, url string) (jwk.Set, error) {
	if err := c.ensureRegistered(ctx, url); err != nil {
		return nil, err
	}
	set, err := c.cache.Lookup(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("lookup JWKS %s: %w", url, err)
	}
	return set, nil
}

// Key returns the raw public key (*rsa.PublicKey, *ecdsa.PublicKey, ...) for kid.
// An unknown kid forces a refresh of the set before giving up, so rotated
// client keys are picked up without waiting for the refresh interval. Forced
// refreshes of one URL are at least minRefresh apart; inside that window an
// unknown kid fails against the cached set.
func (c *Cache) Key(ctx context.Context, url, kid string) (any, error) {
	set, err := c.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	key, ok := set.LookupKeyID(kid)
	if !ok {
		if !c.claimRefresh(ctx, url) {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
		c.logger.InfoContext(ctx, "kid not in cached JWKS, refreshing", "jwks_uri", url, "kid", kid)
		set, err = c.cache.Refresh(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("refresh JWKS %s: %w", url, err)
		}
		if key, ok = set.LookupKeyID(kid); !ok {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("export JWK %q: %w", kid, err)
	}
	return raw, nil
}

// claimRefresh reports whether the caller may force a refresh of url now, and
// records the attempt if so.
func (c *Cache) claimRefresh(ctx context.Context, url string) bool {
	now := requestcontext.Now(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.refreshedAt[url]; ok && now.Sub(last) < c.minRefresh {
		return false
	}
	c.refreshedAt[url] = now
	return true
}

// Warm registers every URL concurrently. Failures are logged and joined; the
// affected URLs are retried lazily on first use.
func (c *Cache) Warm(ctx context.Context, urls []string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(8)
	for _, url := range urls {
		if url == "" {
			continue
		}
		g.Go(func() error {
			if _, err := c.Fetch(ctx, url); err != nil {
				c.logger.WarnContext(ctx, "JWKS warm-up failed", "jwks_uri", url, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
