// Package auth provides the access token used to talk to the collection
// service and the device identity it is issued for.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/darshan-rambhia/leafsync/internal/model"
	"github.com/darshan-rambhia/leafsync/internal/remote"
)

// DefaultLifetime is how long a token is cached when the service gives no
// lifetime hint.
const DefaultLifetime = 50 * time.Minute

// DefaultSafetyMargin is subtracted from the service's lifetime hint.
const DefaultSafetyMargin = 10 * time.Minute

// CredentialStore persists the cached token.
type CredentialStore interface {
	GetCredential(ctx context.Context) (*model.Credential, error)
	ReplaceCredential(ctx context.Context, token string, expiresAt time.Time) error
	ClearExpiredCredential(ctx context.Context, now time.Time) error
}

// Acquirer obtains new tokens from the collection service.
type Acquirer interface {
	AcquireToken(ctx context.Context, clientID string) (remote.Token, error)
}

// TokenCache returns a valid access token, acquiring and persisting a new
// one when the cached token is missing or expired. Concurrent callers share
// one in-flight acquisition.
type TokenCache struct {
	store     CredentialStore
	remote    Acquirer
	clientID  string
	lifetime  time.Duration
	margin    time.Duration
	now       func() time.Time
	onAcquire func()

	group singleflight.Group
}

// Option configures a TokenCache.
type Option func(*TokenCache)

// WithLifetime sets the cache lifetime used when the service gives no hint.
func WithLifetime(d time.Duration) Option {
	return func(c *TokenCache) { c.lifetime = d }
}

// WithSafetyMargin sets how much earlier than the service's hint a token is
// considered expired.
func WithSafetyMargin(d time.Duration) Option {
	return func(c *TokenCache) { c.margin = d }
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(c *TokenCache) { c.now = now }
}

// WithAcquireHook sets a function called after each successful acquisition.
func WithAcquireHook(fn func()) Option {
	return func(c *TokenCache) { c.onAcquire = fn }
}

// NewTokenCache creates a cache that acquires tokens for clientID.
func NewTokenCache(store CredentialStore, acquirer Acquirer, clientID string, opts ...Option) *TokenCache {
	c := &TokenCache{
		store:    store,
		remote:   acquirer,
		clientID: clientID,
		lifetime: DefaultLifetime,
		margin:   DefaultSafetyMargin,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached token while now is before its expiry. Otherwise
// it acquires a new token, stores it and returns it. Acquisition errors are
// returned wrapped and nothing is cached.
//
// The shared acquisition is detached from any single caller's context; each
// caller stops waiting when its own context is done.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	cred, err := c.store.GetCredential(ctx)
	if err != nil {
		return "", err
	}
	if cred.Valid(c.now()) {
		return cred.Token, nil
	}

	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan("token", func() (any, error) {
		return c.refresh(flight)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	now := c.now()

	// Another caller may have refreshed between our read and this flight.
	cred, err := c.store.GetCredential(ctx)
	if err != nil {
		return "", err
	}
	if cred.Valid(now) {
		return cred.Token, nil
	}
	if cred != nil {
		if err := c.store.ClearExpiredCredential(ctx, now); err != nil {
			return "", err
		}
	}

	tok, err := c.remote.AcquireToken(ctx, c.clientID)
	if err != nil {
		return "", fmt.Errorf("acquiring token: %w", err)
	}

	acquiredAt := c.now()
	expiresAt := acquiredAt.Add(c.lifetimeFor(tok.ExpiresIn))
	if err := c.store.ReplaceCredential(ctx, tok.Value, expiresAt); err != nil {
		return "", err
	}
	if c.onAcquire != nil {
		c.onAcquire()
	}
	slog.Debug("access token acquired", "expires_at", expiresAt)
	return tok.Value, nil
}

// lifetimeFor returns a cache lifetime strictly shorter than a non-zero
// hint from the service.
func (c *TokenCache) lifetimeFor(hint time.Duration) time.Duration {
	switch {
	case hint <= 0:
		return c.lifetime
	case c.margin > 0 && hint > c.margin:
		return hint - c.margin
	default:
		return hint / 2
	}
}
