package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/acs-wrap-token/internal/config"
	"github.com/Chapsvision-dev/acs-wrap-token/internal/util"
	"github.com/Chapsvision-dev/acs-wrap-token/pkg/wrap"
)

// wrapProvider acquires ACS tokens with the WRAP v0.9 exchange.
type wrapProvider struct {
	client  *wrap.Client
	timeout time.Duration
}

// newWrapProvider resolves the WRAP identity once. pl overrides the azcore
// pipeline (tests); retries are disabled in the pipeline since callers own
// the retry policy.
func newWrapProvider(cfg config.Config, pl wrap.Transport) *wrapProvider {
	id := wrap.Resolve(cfg.Auth.Wrap, cfg.Auth.Env)
	if id.AccessKey == "" {
		log.Warn().
			Str("action", "auth_new").
			Str("method", "wrap").
			Str("namespace", id.Namespace).
			Msg("no access key configured; ACS will reject the request")
	}
	if id.Namespace == wrap.DefaultNamespaceSuffix {
		log.Warn().
			Str("action", "auth_new").
			Str("method", "wrap").
			Msg("no namespace configured; set AZURE_WRAP_NAMESPACE or AZURE_SERVICEBUS_NAMESPACE")
	}

	client := wrap.New(id, &wrap.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
		Pipeline: pl,
	})
	return &wrapProvider{client: client, timeout: cfg.Timeout}
}

// Acquire exchanges the issuer secret for an ACS token scoped to scope.
func (p *wrapProvider) Acquire(ctx context.Context, scope string) (Token, error) {
	tok, resp, err := p.client.AcquireToken(ctx, scope, &wrap.AcquireOptions{Timeout: p.timeout})
	if err != nil {
		ev := log.Debug().Err(err).Str("action", "auth_acquire").Str("method", "wrap")
		if resp != nil {
			ev = ev.Int("status", resp.StatusCode)
		}
		ev.Msg("wrap token request failed")
		return Token{}, fmt.Errorf("wrap token request: %w", err)
	}

	log.Info().
		Str("action", "auth_acquire").
		Str("method", "wrap").
		Str("host", p.client.Identity().Hostname()).
		Str("scope", scope).
		Str("fingerprint", util.Fingerprint(tok.Token)).
		Time("expires_at", tok.ExpiresAt).
		Msg("wrap token OK")

	return Token{
		Value:     tok.Token,
		ExpiresAt: tok.ExpiresAt,
		Header:    tok.AuthorizationHeader(),
	}, nil
}
