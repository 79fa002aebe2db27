package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/acs-wrap-token/internal/auth"
	"github.com/Chapsvision-dev/acs-wrap-token/internal/config"
	"github.com/Chapsvision-dev/acs-wrap-token/internal/logx"
	"github.com/Chapsvision-dev/acs-wrap-token/internal/retry"
	"github.com/Chapsvision-dev/acs-wrap-token/internal/version"
)

// Test seams, overridden in unit tests. Keep signatures in sync with packages.
var (
	loadConfig  func() (config.Config, error)              = config.Load
	newProvider func(config.Config) (auth.Provider, error) = auth.New
	exit        func(int)                                  = os.Exit
)

const usage = `
Usage:
  acstoken token   [scope] [namespace] [issuer]
  acstoken version | --version | -v
  acstoken help    | --help    | -h

Notes:
  - scope can also be set with TOKEN_SCOPE.
  - WRAP identity: AZURE_WRAP_NAMESPACE, AZURE_SERVICEBUS_NAMESPACE,
    AZURE_SERVICEBUS_ISSUER (default owner), AZURE_SERVICEBUS_ACCESS_KEY,
    AZURE_WRAP_HOST (default accesscontrol.windows.net).
  - TOKEN_AUTH_METHOD=aad uses Entra ID (AZURE_CLIENT_ID/SECRET/TENANT_ID
    or DefaultAzureCredential) instead of ACS.
  - TOKEN_OUTPUT: token (default) | header | json
`

// main wires CLI -> config -> auth provider -> retry -> stdout.
// Exit codes: 0 success, 1 runtime error, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Print(usage)
		exit(2)
	}
	action := strings.ToLower(args[0])

	// Handle version command
	if action == "version" || action == "--version" || action == "-v" {
		fmt.Printf("acstoken %s\n", version.Info())
		exit(0)
	}

	// Handle help command
	if action == "help" || action == "--help" || action == "-h" {
		fmt.Print(usage)
		exit(0)
	}

	if action != "token" {
		fmt.Print(usage)
		exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("config error")
		exit(1)
	}

	cfg.Scope = pickArgOrEnv(2, "TOKEN_SCOPE", cfg.Scope)
	if ns := pickArg(3); ns != "" {
		cfg.Auth.Wrap.Namespace = ns
	}
	if issuer := pickArg(4); issuer != "" {
		cfg.Auth.Wrap.Issuer = issuer
	}
	if strings.TrimSpace(cfg.Scope) == "" {
		log.Error().Str("action", "token").Msg("no scope: pass it as argument or set TOKEN_SCOPE")
		fmt.Print(usage)
		exit(2)
	}

	p, err := newProvider(cfg)
	if err != nil {
		log.Error().Err(err).Str("method", cfg.Auth.Method).Msg("auth provider init error")
		exit(1)
	}

	ctx := withSignals(context.Background())

	start := time.Now()
	attempts := 0
	var tok auth.Token
	ro := cfg.RetryOptions()
	ro.Notify = func(attempt int, err error, sleep time.Duration) {
		log.Warn().Err(err).
			Str("action", "token").
			Int("attempt", attempt).
			Dur("retry_in", sleep).
			Msg("token request failed, retrying")
	}
	err = retry.Do(ctx, ro, auth.IsRetryable, func(ctx context.Context) error {
		attempts++
		t, err := p.Acquire(ctx, cfg.Scope)
		if err != nil {
			return err
		}
		tok = t
		return nil
	})
	if err != nil {
		log.Error().Err(err).
			Str("action", "token").
			Str("scope", cfg.Scope).
			Int("attempts", attempts).
			Msg("token acquisition failed")
		exit(1)
	}

	if err := printToken(cfg.Output, tok); err != nil {
		log.Error().Err(err).Str("action", "token").Msg("output error")
		exit(1)
	}
	log.Info().
		Str("action", "token").
		Str("method", cfg.Auth.Method).
		Int("attempts", attempts).
		Time("expires_at", tok.ExpiresAt).
		Dur("elapsed_ms", time.Since(start)).
		Msg("token OK")
}

func printToken(format string, tok auth.Token) error {
	switch strings.ToLower(format) {
	case "", "token":
		fmt.Println(tok.Value)
	case "header":
		fmt.Println(tok.Header)
	case "json":
		out := struct {
			Token         string    `json:"token"`
			Authorization string    `json:"authorization"`
			ExpiresAt     time.Time `json:"expires_at"`
		}{tok.Value, tok.Header, tok.ExpiresAt.UTC()}
		return json.NewEncoder(os.Stdout).Encode(out)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
	return nil
}

func pickArg(idx int) string {
	if len(os.Args) > idx {
		return os.Args[idx]
	}
	return ""
}

func pickArgOrEnv(idx int, env string, def string) string {
	if v := pickArg(idx); v != "" {
		return v
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}
