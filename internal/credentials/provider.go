// Package credentials supplies bearer tokens for the sync transport. Token
// acquisition itself is an external capability; this package only caches the
// result and knows when a cached token is about to lapse.
package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	// DefaultRefreshMargin is subtracted from a token's lifetime so a token
	// is refreshed before it actually expires mid-delivery.
	DefaultRefreshMargin = time.Minute
	// DefaultFallbackTTL caches tokens without a readable expiry claim for a
	// short, safe window.
	DefaultFallbackTTL = 5 * time.Minute
)

var (
	// ErrMissingSource indicates the provider was built without an upstream
	// token source.
	ErrMissingSource = errors.New("credentials: token source required")
	// ErrEmptyToken indicates the upstream source produced a blank token.
	ErrEmptyToken = errors.New("credentials: empty token from source")
)

// Source obtains a fresh bearer token for a user, e.g. by re-authenticating
// against the identity provider.
type Source interface {
	FetchToken(ctx context.Context, userID string) (string, error)
}

// StaticSource returns a fixed token, useful for provisioning and tests.
type StaticSource string

// FetchToken returns the fixed token.
func (s StaticSource) FetchToken(context.Context, string) (string, error) {
	return string(s), nil
}

// CachingProviderConfig configures a CachingProvider.
type CachingProviderConfig struct {
	Source        Source
	Clock         func() time.Time
	RefreshMargin time.Duration
	Logger        *zap.Logger
}

// CachingProvider caches tokens per user, with the cache TTL derived from
// each token's JWT expiry claim. The claim is read without signature
// verification: the device holds no server key and only needs the lifetime.
type CachingProvider struct {
	source Source
	tokens *cache.Cache
	clock  func() time.Time
	margin time.Duration
	logger *zap.Logger
}

// NewCachingProvider constructs the provider.
func NewCachingProvider(cfg CachingProviderConfig) (*CachingProvider, error) {
	if cfg.Source == nil {
		return nil, ErrMissingSource
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingProvider{
		source: cfg.Source,
		tokens: cache.New(cache.NoExpiration, 10*time.Minute),
		clock:  clock,
		margin: margin,
		logger: logger,
	}, nil
}

// Token returns a cached bearer token for the user, fetching a fresh one
// from the source when none is cached or the cached one lapsed.
func (p *CachingProvider) Token(ctx context.Context, userID string) (string, error) {
	if cached, found := p.tokens.Get(userID); found {
		return cached.(string), nil
	}

	token, err := p.source.FetchToken(ctx, userID)
	if err != nil {
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}

	p.tokens.Set(userID, token, p.cacheTTL(token))
	return token, nil
}

// Invalidate drops the cached token for a user. The sync coordinator calls
// this when the remote authority rejects the credential, so the next attempt
// fetches a fresh one.
func (p *CachingProvider) Invalidate(userID string) {
	p.tokens.Delete(userID)
}

func (p *CachingProvider) cacheTTL(token string) time.Duration {
	expiry, err := tokenExpiry(token)
	if err != nil {
		p.logger.Debug("token expiry unreadable, using fallback ttl", zap.Error(err))
		return DefaultFallbackTTL
	}
	ttl := expiry.Sub(p.clock()) - p.margin
	if ttl <= 0 {
		// Already at the edge of its lifetime; keep it just long enough for
		// the in-flight sync pass.
		return time.Second
	}
	return ttl
}

func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("credentials: token has no expiry claim")
	}
	return claims.ExpiresAt.Time, nil
}
