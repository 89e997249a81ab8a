package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// originPolicy normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
type originPolicy struct {
	allowed      map[string]struct{}
	allowAll     bool
	allowMissing bool
	log          zerolog.Logger
}

// newOriginPolicy builds the policy for origins. Browsers always send Origin
// on a WebSocket upgrade, so allowMissing only opens the endpoint to
// non-browser clients.
func newOriginPolicy(origins []string, allowMissing bool, log zerolog.Logger) *originPolicy {
	p := &originPolicy{
		allowed:      make(map[string]struct{}, len(origins)),
		allowMissing: allowMissing,
		log:          log,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		p.allowed[normalized] = struct{}{}
	}

	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

func (p *originPolicy) isAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return p.allowMissing
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}

	_, exists := p.allowed[normalized]
	return exists
}

func (p *originPolicy) check(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}

	p.log.Warn().Str("origin", r.Header.Get("Origin")).Str("remote_addr", r.RemoteAddr).Msg("blocked websocket connection from disallowed origin")
	return false
}
