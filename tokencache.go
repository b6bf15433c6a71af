package main

import (
	"context"
	"sync"
	"time"
)

// tokenSafetyMargin is how long before expires_at a cached token stops being
// handed out.
const tokenSafetyMargin = 60 * time.Second

// InstallationToken is a short-lived installation access token. A zero
// ExpiresAt means the expiry is unknown and the token is never reused.
type InstallationToken struct {
	Token               string
	ExpiresAt           time.Time
	Permissions         map[string]string
	RepositorySelection string
}

type mintFunc func(ctx context.Context, installationID int64) (*InstallationToken, error)

// TokenCache hands out installation tokens keyed by installation id and mints
// a new one once the cached token is within the safety margin of expiry. With
// caching disabled every call mints.
type TokenCache struct {
	mu      sync.Mutex
	tokens  map[int64]*InstallationToken
	mint    mintFunc
	enabled bool
	margin  time.Duration
	now     func() time.Time
	metrics *Metrics
}

// NewTokenCache creates a cache around mint.
func NewTokenCache(mint mintFunc, enabled bool, metrics *Metrics) *TokenCache {
	return &TokenCache{
		tokens:  make(map[int64]*InstallationToken),
		mint:    mint,
		enabled: enabled,
		margin:  tokenSafetyMargin,
		now:     time.Now,
		metrics: metrics,
	}
}

// GetToken returns a token for installationID that is valid for at least the
// safety margin.
func (c *TokenCache) GetToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	if c.enabled {
		c.mu.Lock()
		tok, ok := c.tokens[installationID]
		c.mu.Unlock()
		if ok && c.usable(tok) {
			return tok, nil
		}
	}

	tok, err := c.mint(ctx, installationID)
	if err != nil {
		return nil, err
	}
	c.metrics.tokenMinted()

	if c.enabled && !tok.ExpiresAt.IsZero() {
		c.mu.Lock()
		c.tokens[installationID] = tok
		c.mu.Unlock()
	}
	return tok, nil
}

// Invalidate forgets the token for installationID.
func (c *TokenCache) Invalidate(installationID int64) {
	c.mu.Lock()
	delete(c.tokens, installationID)
	c.mu.Unlock()
}

func (c *TokenCache) usable(tok *InstallationToken) bool {
	if tok.ExpiresAt.IsZero() {
		return false
	}
	return c.now().Add(c.margin).Before(tok.ExpiresAt)
}
