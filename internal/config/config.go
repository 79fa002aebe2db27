package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Chapsvision-dev/acs-wrap-token/internal/retry"
	"github.com/Chapsvision-dev/acs-wrap-token/pkg/wrap"
)

type Config struct {
	Auth AuthConfig

	// Scope is the resource URI a token is requested for.
	Scope   string
	Timeout time.Duration
	// Output is how the CLI prints the token: token, header or json.
	Output  string

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryEnableJitter bool
}

type AuthConfig struct {
	Method string // "wrap" or "aad"

	// Explicit WRAP identity; empty fields are resolved from Env.
	Wrap wrap.Identity
	Env  wrap.Env

	Azure AzureConfig // only if Method == aad
}

type AzureConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
}

// Load reads config from environment variables, applies defaults and validates.
func Load() (Config, error) {
	get := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return def
	}

	parseInt := func(key string, def int) int {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return n
			}
		}
		return def
	}

	parseDur := func(key string, def time.Duration) time.Duration {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
		return def
	}

	parseFloat := func(key string, def float64) float64 {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				return f
			}
		}
		return def
	}

	parseBool := func(key string, def bool) bool {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "y", "on":
				return true
			case "0", "false", "no", "n", "off":
				return false
			}
		}
		return def
	}

	method := strings.ToLower(get("TOKEN_AUTH_METHOD", "wrap"))
	if method == "" {
		method = "wrap"
	}

	// AZURE_WRAP_HOST is the only explicit identity field taken from the
	// environment; namespace and issuer may come from CLI args.
	explicit := wrap.Identity{Host: get("AZURE_WRAP_HOST", "")}

	cfg := Config{
		Auth: AuthConfig{
			Method: method,
			Wrap:   explicit,
			Env:    wrap.EnvFromLookup(os.LookupEnv),
			Azure: AzureConfig{
				ClientID:     get("AZURE_CLIENT_ID", ""),
				ClientSecret: get("AZURE_CLIENT_SECRET", ""),
				TenantID:     get("AZURE_TENANT_ID", ""),
			},
		},

		Scope:   get("TOKEN_SCOPE", ""),
		Timeout: parseDur("TOKEN_TIMEOUT", 30*time.Second),
		Output:  strings.ToLower(get("TOKEN_OUTPUT", "token")),

		RetryMaxAttempts:  parseInt("RETRY_MAX_ATTEMPTS", retry.Default.MaxAttempts),
		RetryInitialDelay: parseDur("RETRY_INITIAL_DELAY", retry.Default.InitialDelay),
		RetryMaxDelay:     parseDur("RETRY_MAX_DELAY", retry.Default.MaxDelay),
		RetryMultiplier:   parseFloat("RETRY_MULTIPLIER", retry.Default.Multiplier),
		RetryEnableJitter: parseBool("RETRY_JITTER", retry.Default.Jitter),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks method-specific requirements.
// WRAP credentials are not checked here: missing values surface as an
// authorization failure from ACS.
func (c *Config) validate() error {
	switch c.Auth.Method {
	case "wrap":
	case "aad":
		a := c.Auth.Azure
		partial := a.ClientID != "" || a.ClientSecret != "" || a.TenantID != ""
		complete := a.ClientID != "" && a.ClientSecret != "" && a.TenantID != ""
		if partial && !complete {
			return errors.New("aad: AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_TENANT_ID must be set together")
		}
	default:
		return errors.New("unsupported auth method: " + c.Auth.Method)
	}
	switch c.Output {
	case "", "token", "header", "json":
	default:
		return errors.New("unsupported TOKEN_OUTPUT: " + c.Output)
	}
	if c.Timeout < 0 {
		return errors.New("TOKEN_TIMEOUT must not be negative")
	}
	return nil
}

// RetryOptions converts retry-related config values to retry.Options.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.RetryMaxAttempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       c.RetryEnableJitter,
	}
}
