package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// DefaultJWTConfig returns the JWT defaults. The secret has no default.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:   "roomchat",
		TokenTTL: 24 * time.Hour,
	}
}

// Claims are the claims carried by chat tokens. The subject is the username.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager issues and validates HS256 chat tokens.
type JWTManager struct {
	config JWTConfig
}

// NewJWTManager creates a manager for config. A secret is required.
func NewJWTManager(config JWTConfig) (*JWTManager, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultJWTConfig().TokenTTL
	}
	return &JWTManager{config: config}, nil
}

// Issue creates a token for username valid for the configured TTL.
func (m *JWTManager) Issue(username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("username is required")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve validates token and returns its subject.
func (m *JWTManager) Resolve(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(m.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Username: claims.Subject}, nil
}
