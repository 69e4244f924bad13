package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	tokens []string
	calls  int
	err    error
}

func (s *countingSource) FetchToken(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	token := s.tokens[s.calls%len(s.tokens)]
	s.calls++
	return token, nil
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "worker@example.com",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestTokenIsCachedUntilInvalidated(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	source := &countingSource{tokens: []string{
		signedToken(t, now.Add(time.Hour)),
		signedToken(t, now.Add(2*time.Hour)),
	}}

	provider, err := NewCachingProvider(CachingProviderConfig{
		Source: source,
		Clock:  func() time.Time { return now },
	})
	require.NoError(t, err)

	first, err := provider.Token(context.Background(), "worker@example.com")
	require.NoError(t, err)
	second, err := provider.Token(context.Background(), "worker@example.com")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.calls)

	provider.Invalidate("worker@example.com")
	third, err := provider.Token(context.Background(), "worker@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, source.calls)
}

func TestTokenCacheIsPerUser(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	source := &countingSource{tokens: []string{
		signedToken(t, now.Add(time.Hour)),
		signedToken(t, now.Add(2*time.Hour)),
	}}
	provider, err := NewCachingProvider(CachingProviderConfig{
		Source: source,
		Clock:  func() time.Time { return now },
	})
	require.NoError(t, err)

	_, err = provider.Token(context.Background(), "a@example.com")
	require.NoError(t, err)
	_, err = provider.Token(context.Background(), "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestOpaqueTokenGetsFallbackTTL(t *testing.T) {
	source := &countingSource{tokens: []string{"not-a-jwt"}}
	provider, err := NewCachingProvider(CachingProviderConfig{Source: source})
	require.NoError(t, err)

	token, err := provider.Token(context.Background(), "worker@example.com")
	require.NoError(t, err)
	assert.Equal(t, "not-a-jwt", token)
}

func TestSourceErrorsPropagate(t *testing.T) {
	provider, err := NewCachingProvider(CachingProviderConfig{Source: &countingSource{err: assert.AnError}})
	require.NoError(t, err)

	_, err = provider.Token(context.Background(), "worker@example.com")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestBlankTokenRejected(t *testing.T) {
	provider, err := NewCachingProvider(CachingProviderConfig{Source: StaticSource("   ")})
	require.NoError(t, err)

	_, err = provider.Token(context.Background(), "worker@example.com")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestMissingSourceRejected(t *testing.T) {
	_, err := NewCachingProvider(CachingProviderConfig{})
	assert.ErrorIs(t, err, ErrMissingSource)
}
