package auth

import (
	"context"
	"strings"
)

// StaticTokenPrefix marks development tokens of the form
// "dummy-auth-token-<username>".
const StaticTokenPrefix = "dummy-auth-token-"

// StaticResolver accepts development tokens that embed the username. When a
// user list is configured only those users are let in.
type StaticResolver struct {
	users map[string]struct{}
}

// NewStaticResolver creates a resolver restricted to users. An empty list
// accepts any well-formed token.
func NewStaticResolver(users []string) *StaticResolver {
	r := &StaticResolver{}
	if len(users) == 0 {
		return r
	}

	r.users = make(map[string]struct{}, len(users))
	for _, u := range users {
		if u = strings.TrimSpace(u); u != "" {
			r.users[u] = struct{}{}
		}
	}
	return r
}

// StaticToken returns the development token for username.
func StaticToken(username string) string {
	return StaticTokenPrefix + username
}

func (r *StaticResolver) Resolve(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	username, ok := strings.CutPrefix(token, StaticTokenPrefix)
	if !ok || username == "" {
		return Identity{}, ErrInvalidToken
	}

	if r.users != nil {
		if _, known := r.users[username]; !known {
			return Identity{}, ErrInvalidToken
		}
	}
	return Identity{Username: username}, nil
}
