package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/acs-wrap-token/internal/config"
)

var (
	ErrNoScope = errors.New("no scope configured for token request")
)

// Token is an access token and its expiry. Never log Value.
type Token struct {
	Value     string
	ExpiresAt time.Time
	// Header is the Authorization header value for the scoped resource.
	Header string
}

// Provider abstracts how we acquire a token for a scope (no caching or renew here).
type Provider interface {
	Acquire(ctx context.Context, scope string) (Token, error)
}

// New selects the provider based on cfg.Auth.Method.
// NOTE: This package never initializes logging; main() does via logx.InitFromEnv().
func New(cfg config.Config) (Provider, error) {
	method := strings.ToLower(strings.TrimSpace(cfg.Auth.Method))
	switch method {
	case "", "wrap":
		log.Debug().
			Str("action", "auth_new").
			Str("method", "wrap").
			Msg("auth provider selected")
		return newWrapProvider(cfg, nil), nil

	case "aad":
		log.Debug().
			Str("action", "auth_new").
			Str("method", "aad").
			Bool("service_principal", cfg.Auth.Azure.ClientID != "").
			Msg("auth provider selected")
		return newAADProvider(cfg)

	default:
		return nil, errors.New("unsupported auth method: " + method)
	}
}
