package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	ctx := context.Background()

	open := NewStaticResolver(nil)
	id, err := open.Resolve(ctx, StaticToken("alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)

	_, err = open.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = open.Resolve(ctx, "dummy-auth-token-")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = open.Resolve(ctx, "some-other-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	restricted := NewStaticResolver([]string{"alice", " bob "})
	_, err = restricted.Resolve(ctx, StaticToken("bob"))
	assert.NoError(t, err)
	_, err = restricted.Resolve(ctx, StaticToken("mallory"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newManager(t *testing.T, cfg JWTConfig) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(cfg)
	require.NoError(t, err)
	return m
}

func TestJWTManager_IssueAndResolve(t *testing.T) {
	m := newManager(t, JWTConfig{Secret: "test-secret", Issuer: "test", TokenTTL: time.Minute})

	token, err := m.Issue("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := m.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)

	_, err = m.Issue("")
	assert.Error(t, err)
}

func TestJWTManager_RejectsBadTokens(t *testing.T) {
	m := newManager(t, JWTConfig{Secret: "test-secret", Issuer: "test"})
	ctx := context.Background()

	_, err := m.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = m.Resolve(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := newManager(t, JWTConfig{Secret: "other-secret", Issuer: "test"})
	foreign, err := other.Issue("alice")
	require.NoError(t, err)
	_, err = m.Resolve(ctx, foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong signing key")

	wrongIssuer := newManager(t, JWTConfig{Secret: "test-secret", Issuer: "elsewhere"})
	token, err := wrongIssuer.Issue("alice")
	require.NoError(t, err)
	_, err = m.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")
}

func TestJWTManager_Expired(t *testing.T) {
	m := newManager(t, JWTConfig{Secret: "test-secret", Issuer: "test"})

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "test",
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = m.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTManager_RequiresSecret(t *testing.T) {
	_, err := NewJWTManager(JWTConfig{})
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	m := newManager(t, JWTConfig{Secret: "test-secret", Issuer: "test"})
	chain := Chain{m, NewStaticResolver(nil)}
	ctx := context.Background()

	token, err := m.Issue("alice")
	require.NoError(t, err)
	id, err := chain.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)

	id, err = chain.Resolve(ctx, StaticToken("bob"))
	require.NoError(t, err)
	assert.Equal(t, "bob", id.Username)

	_, err = chain.Resolve(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = chain.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestChain_ExpiredStops(t *testing.T) {
	expired := ResolverFunc(func(context.Context, string) (Identity, error) {
		return Identity{}, ErrExpiredToken
	})
	accepting := ResolverFunc(func(context.Context, string) (Identity, error) {
		return Identity{Username: "anyone"}, nil
	})

	_, err := Chain{expired, accepting}.Resolve(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestNew(t *testing.T) {
	r, err := New(Config{Drivers: []string{DriverStatic}})
	require.NoError(t, err)
	assert.IsType(t, &StaticResolver{}, r)

	r, err = New(Config{Drivers: []string{DriverJWT, DriverStatic}, JWT: JWTConfig{Secret: "s"}})
	require.NoError(t, err)
	assert.IsType(t, Chain{}, r)

	_, err = New(Config{Drivers: []string{DriverJWT}})
	assert.Error(t, err, "jwt without secret")

	_, err = New(Config{Drivers: []string{"ldap"}})
	assert.Error(t, err)

	_, err = New(Config{})
	assert.Error(t, err)
}
