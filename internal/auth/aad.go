package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/acs-wrap-token/internal/config"
	"github.com/Chapsvision-dev/acs-wrap-token/internal/util"
)

const aadDefaultSuffix = "/.default"

// aadProvider acquires Entra ID tokens; used where a namespace no longer
// accepts ACS tokens.
type aadProvider struct {
	cred azcore.TokenCredential
}

// newAADProvider picks a credential.
// Priority: 1) Service Principal  2) DefaultAzureCredential.
func newAADProvider(cfg config.Config) (*aadProvider, error) {
	a := cfg.Auth.Azure
	if a.ClientID != "" && a.ClientSecret != "" && a.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(a.TenantID, a.ClientID, a.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("aad client secret credential: %w", err)
		}
		return &aadProvider{cred: cred}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("aad default credential: %w", err)
	}
	return &aadProvider{cred: cred}, nil
}

// Acquire requests a token for the resource scope ("/.default" is appended
// when missing).
func (p *aadProvider) Acquire(ctx context.Context, scope string) (Token, error) {
	if strings.TrimSpace(scope) == "" {
		return Token{}, ErrNoScope
	}
	s := aadScope(scope)
	at, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{s}})
	if err != nil {
		return Token{}, fmt.Errorf("aad token request: %w", err)
	}
	if at.Token == "" {
		return Token{}, errors.New("aad token request: empty token")
	}

	log.Info().
		Str("action", "auth_acquire").
		Str("method", "aad").
		Str("scope", s).
		Str("fingerprint", util.Fingerprint(at.Token)).
		Time("expires_at", at.ExpiresOn).
		Msg("aad token OK")

	return Token{
		Value:     at.Token,
		ExpiresAt: at.ExpiresOn,
		Header:    "Bearer " + at.Token,
	}, nil
}

func aadScope(scope string) string {
	if strings.HasSuffix(scope, aadDefaultSuffix) {
		return scope
	}
	return strings.TrimRight(scope, "/") + aadDefaultSuffix
}
