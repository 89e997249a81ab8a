// Package auth resolves the credential a client presents when it opens a chat
// connection into the identity it speaks as.
package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidToken is returned when a credential cannot be resolved.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a credential was valid but has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is an authenticated user.
type Identity struct {
	Username string
}

// Resolver maps a token to an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, token string) (Identity, error)

func (f ResolverFunc) Resolve(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// Chain tries each resolver in turn and returns the first identity found.
// An expired token stops the chain, since another scheme accepting it would
// defeat the expiry.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	for _, r := range c {
		id, err := r.Resolve(ctx, token)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrExpiredToken) || ctx.Err() != nil {
			return Identity{}, err
		}
	}
	return Identity{}, ErrInvalidToken
}

// Driver names accepted by New.
const (
	DriverStatic = "static"
	DriverJWT    = "jwt"
)

// Config selects the resolvers used to authenticate connections.
type Config struct {
	Drivers []string  `yaml:"drivers"`
	Users   []string  `yaml:"users"`
	JWT     JWTConfig `yaml:"jwt"`
}

// New builds the resolver chain described by cfg.
func New(cfg Config) (Resolver, error) {
	if len(cfg.Drivers) == 0 {
		return nil, fmt.Errorf("no auth drivers configured")
	}

	chain := make(Chain, 0, len(cfg.Drivers))
	for _, driver := range cfg.Drivers {
		switch driver {
		case DriverStatic:
			chain = append(chain, NewStaticResolver(cfg.Users))
		case DriverJWT:
			m, err := NewJWTManager(cfg.JWT)
			if err != nil {
				return nil, err
			}
			chain = append(chain, m)
		default:
			return nil, fmt.Errorf("unknown auth driver %q", driver)
		}
	}

	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}
