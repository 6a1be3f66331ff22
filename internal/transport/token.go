package transport

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTokenTTL is used when a carrier reports no expiry and the
// token is not a parseable JWT.
const defaultTokenTTL = 15 * time.Minute

// tokenExpirySkew refreshes tokens slightly early so in-flight calls
// never carry a token that expires mid-request.
const tokenExpirySkew = 30 * time.Second

// TokenFunc acquires a fresh auth token from a carrier. expiresIn may
// be zero when the carrier does not report a lifetime.
type TokenFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenSource caches one carrier token for one set of credentials,
// refreshing on expiry. When the carrier reports no lifetime the
// source reads the exp claim from the token itself (carriers issuing
// JWTs rarely echo the lifetime separately), falling back to a
// conservative default.
type TokenSource struct {
	mu     sync.Mutex
	fetch  TokenFunc
	token  string
	expiry time.Time
}

// NewTokenSource creates a token source backed by fetch.
func NewTokenSource(fetch TokenFunc) *TokenSource {
	return &TokenSource{fetch: fetch}
}

// Token returns a valid cached token, fetching a fresh one when the
// cache is empty or expired.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry.Add(-tokenExpirySkew)) {
		return s.token, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if expiresIn <= 0 {
		expiresIn = jwtLifetime(token)
	}

	s.token = token
	s.expiry = time.Now().Add(expiresIn)
	return s.token, nil
}

// jwtLifetime derives a token lifetime from its exp claim without
// verifying the signature (we are the audience, not the verifier).
func jwtLifetime(token string) time.Duration {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return defaultTokenTTL
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return defaultTokenTTL
	}
	ttl := time.Until(exp.Time)
	if ttl <= 0 {
		return defaultTokenTTL
	}
	return ttl
}

// TokenCache holds token sources keyed by credential identity so
// concurrent adapter invocations for the same carrier relationship
// share one token.
type TokenCache struct {
	mu      sync.Mutex
	sources map[string]*TokenSource
}

// NewTokenCache returns an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{sources: make(map[string]*TokenSource)}
}

// Source returns the cached source for key, creating it with fetch on
// first use.
func (c *TokenCache) Source(key string, fetch TokenFunc) *TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sources[key]; ok {
		return s
	}
	s := NewTokenSource(fetch)
	c.sources[key] = s
	return s
}
