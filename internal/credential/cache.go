package credential

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alexeynavarkin/picsearch/internal/metrics"
)

const (
	defaultRefreshMargin = time.Minute
	refreshKey           = "token"
)

// Cache memoizes a single process-wide credential. Concurrent callers that
// find it missing or expired share one token exchange.
type Cache struct {
	fetch  FetchFunc
	clock  Clock
	margin time.Duration
	rec    metrics.Recorder
	lg     *zap.Logger

	group singleflight.Group

	mu        sync.RWMutex
	cur       *Credential
	refreshAt time.Time
}

type Option func(*Cache)

// WithRefreshMargin makes the cache treat a credential as expired margin
// before its real expiry.
func WithRefreshMargin(margin time.Duration) Option {
	return func(c *Cache) {
		c.margin = margin
	}
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(c *Cache) {
		if rec != nil {
			c.rec = rec
		}
	}
}

func NewCache(fetch FetchFunc, clock Clock, lg *zap.Logger, opts ...Option) *Cache {
	if clock == nil {
		clock = RealClock{}
	}
	c := &Cache{
		fetch:  fetch,
		clock:  clock,
		margin: defaultRefreshMargin,
		rec:    metrics.Nop,
		lg:     lg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Token(ctx context.Context) (Credential, error) {
	if cred, ok := c.cached(); ok {
		return cred, nil
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		// A caller that lost the race may arrive after the refresh finished.
		if cred, ok := c.cached(); ok {
			return cred, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

// Invalidate drops the cached credential so the next Token call refreshes.
// Used when the remote side rejects a token before its advertised expiry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
	c.lg.Info("credential invalidated")
}

func (c *Cache) cached() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cur == nil {
		return Credential{}, false
	}
	if !c.clock.Now().Before(c.refreshAt) {
		return Credential{}, false
	}
	return *c.cur, true
}

func (c *Cache) refresh(ctx context.Context) (cred Credential, err error) {
	defer metrics.Since(c.rec, metrics.StageToken, time.Now(), &err)

	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()

	issuedAt := c.clock.Now()
	grant, err := c.fetch(ctx)
	if err != nil {
		c.lg.Error("token exchange failed", zap.Error(err))
		return Credential{}, err
	}
	if grant.AccessToken == "" || grant.ExpiresIn <= 0 {
		err = &Error{Message: "token response without access_token or expires_in"}
		c.lg.Error("token exchange failed", zap.Error(err))
		return Credential{}, err
	}

	cred = Credential{
		Token:     grant.AccessToken,
		ExpiresAt: issuedAt.Add(grant.ExpiresIn),
	}

	c.mu.Lock()
	c.cur = &cred
	c.refreshAt = cred.ExpiresAt.Add(-c.marginFor(grant.ExpiresIn))
	c.mu.Unlock()

	c.lg.Info("credential refreshed", zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

// marginFor keeps short-lived tokens usable for at least half their life.
func (c *Cache) marginFor(ttl time.Duration) time.Duration {
	if c.margin > ttl/2 {
		return ttl / 2
	}
	return c.margin
}
