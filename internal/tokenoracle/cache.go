package tokenoracle

import (
	"context"
	"sync"
	"time"
)

// Cached wraps an Oracle, caching verified Claims by raw token string until
// the claim's own ExpiresAt, per spec: "cache verified payloads by expiry."
// A token without an expiry claim is never cached, since there would be
// nothing to key eviction on.
type Cached struct {
	inner Oracle
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]*Claims
}

// NewCached wraps inner with an in-memory expiry cache.
func NewCached(inner Oracle) *Cached {
	return &Cached{
		inner:   inner,
		now:     time.Now,
		entries: make(map[string]*Claims),
	}
}

var _ Oracle = (*Cached)(nil)

// Verify returns a cached Claims if one exists and has not expired,
// otherwise delegates to the wrapped oracle and caches a successful result.
func (c *Cached) Verify(ctx context.Context, token string) (*Claims, error) {
	if claims, ok := c.lookup(token); ok {
		return claims, nil
	}

	claims, err := c.inner.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if !claims.ExpiresAt.IsZero() {
		c.store(token, claims)
	}
	return claims, nil
}

// PublicKey is not cached; key material is assumed to change rarely enough
// that callers can rely on the underlying oracle's own caching, if any.
func (c *Cached) PublicKey(ctx context.Context, issuer string) (any, error) {
	return c.inner.PublicKey(ctx, issuer)
}

func (c *Cached) lookup(token string) (*Claims, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	claims, ok := c.entries[token]
	if !ok {
		return nil, false
	}
	if !c.now().Before(claims.ExpiresAt) {
		return nil, false
	}
	return claims, true
}

func (c *Cached) store(token string, claims *Claims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = claims
	c.evictExpiredLocked()
}

// evictExpiredLocked sweeps expired entries opportunistically on writes,
// since this cache has no background janitor goroutine.
func (c *Cached) evictExpiredLocked() {
	now := c.now()
	for token, claims := range c.entries {
		if !now.Before(claims.ExpiresAt) {
			delete(c.entries, token)
		}
	}
}
