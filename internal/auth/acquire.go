package auth

import (
	"context"
	"strings"

	"github.com/Chapsvision-dev/acs-wrap-token/internal/config"
)

// AcquireToken is a convenience for call sites that only need one token
// for cfg.Scope.
func AcquireToken(ctx context.Context, cfg config.Config) (Token, error) {
	if strings.TrimSpace(cfg.Scope) == "" {
		return Token{}, ErrNoScope
	}
	p, err := New(cfg)
	if err != nil {
		return Token{}, err
	}
	return p.Acquire(ctx, cfg.Scope)
}
