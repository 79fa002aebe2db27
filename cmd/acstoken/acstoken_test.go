package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/Chapsvision-dev/acs-wrap-token/internal/auth"
	"github.com/Chapsvision-dev/acs-wrap-token/internal/config"
)

/* ----------------------------- test harness ----------------------------- */

type exitPanic struct{ code int }

func patchExit(t *testing.T) func() {
	t.Helper()
	prev := exit
	exit = func(code int) { panic(exitPanic{code}) }
	return func() { exit = prev }
}

func mustExitCode(t *testing.T, fn func()) (code int) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected os.Exit interception, got no panic")
		}
		if ep, ok := r.(exitPanic); ok {
			code = ep.code
			return
		}
		t.Fatalf("unexpected panic: %#v", r)
	}()
	fn()
	return 0
}

func withArgs(t *testing.T, args []string) func() {
	t.Helper()
	prev := os.Args
	os.Args = append([]string{prev[0]}, args...)
	return func() { os.Args = prev }
}

func withEnv(t *testing.T, kv map[string]string) func() {
	t.Helper()
	prev := map[string]*string{}
	for k, v := range kv {
		if old, ok := os.LookupEnv(k); ok {
			tmp := old
			prev[k] = &tmp
		} else {
			prev[k] = nil
		}
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("setenv %s: %v", k, err)
		}
	}
	return func() {
		for k, v := range prev {
			if v == nil {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, *v)
			}
		}
	}
}

func captureStdout(t *testing.T) func() string {
	t.Helper()
	old := os.Stdout
	var buf bytes.Buffer
	r, w, _ := os.Pipe()
	os.Stdout = w

	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	return func() string {
		_ = w.Close()
		<-done
		os.Stdout = old
		return buf.String()
	}
}

func resetSeams() {
	loadConfig = config.Load
	newProvider = auth.New
}

func stubConfig(scope string) func() (config.Config, error) {
	return func() (config.Config, error) {
		return config.Config{
			Auth:              config.AuthConfig{Method: "wrap"},
			Scope:             scope,
			RetryMaxAttempts:  3,
			RetryInitialDelay: time.Millisecond,
			RetryMaxDelay:     time.Millisecond,
			RetryMultiplier:   1,
		}, nil
	}
}

/* --------------------------------- tests -------------------------------- */

// 1) No args -> prints usage, exit code 2
func TestUsage_NoArgs(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{})()

	restoreOut := captureStdout(t)
	code := mustExitCode(t, func() { main() })
	out := restoreOut()

	if code != 2 {
		t.Fatalf("want exit 2, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage on stdout, got: %q", out)
	}
}

// 2) Unknown action -> usage error
func TestUsage_UnknownAction(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"backup"})()

	restoreOut := captureStdout(t)
	code := mustExitCode(t, func() { main() })
	_ = restoreOut()

	if code != 2 {
		t.Fatalf("want exit 2, got %d", code)
	}
}

// 3) Version prints build info and exits 0
func TestVersion(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"--version"})()

	restoreOut := captureStdout(t)
	code := mustExitCode(t, func() { main() })
	out := restoreOut()

	if code != 0 || !strings.HasPrefix(out, "acstoken ") {
		t.Fatalf("code=%d out=%q", code, out)
	}
}

// 4) Token: arg scope overrides env; namespace/issuer args reach the provider config
func TestToken_ArgsOverrideEnv(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"token", "sb://arg/queue", "contoso-sb", "listener"})()
	defer withEnv(t, map[string]string{"TOKEN_SCOPE": "sb://env/queue"})()

	loadConfig = stubConfig("sb://def/queue")
	var gotCfg config.Config
	var gotScope string
	newProvider = func(cfg config.Config) (auth.Provider, error) {
		gotCfg = cfg
		return providerFunc(func(_ context.Context, scope string) (auth.Token, error) {
			gotScope = scope
			return auth.Token{Value: "tok", Header: `WRAP access_token="tok"`}, nil
		}), nil
	}

	restoreOut := captureStdout(t)
	main()
	out := restoreOut()

	if gotScope != "sb://arg/queue" {
		t.Fatalf("scope = %q", gotScope)
	}
	if gotCfg.Auth.Wrap.Namespace != "contoso-sb" || gotCfg.Auth.Wrap.Issuer != "listener" {
		t.Fatalf("identity args not applied: %+v", gotCfg.Auth.Wrap)
	}
	if strings.TrimSpace(out) != "tok" {
		t.Fatalf("stdout = %q", out)
	}
}

// 5) Token: scope from env when no arg
func TestToken_ScopeFromEnv(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"token"})()
	defer withEnv(t, map[string]string{"TOKEN_SCOPE": "sb://env/queue"})()

	loadConfig = stubConfig("sb://def/queue")
	var gotScope string
	newProvider = func(config.Config) (auth.Provider, error) {
		return providerFunc(func(_ context.Context, scope string) (auth.Token, error) {
			gotScope = scope
			return auth.Token{Value: "tok"}, nil
		}), nil
	}

	restoreOut := captureStdout(t)
	main()
	_ = restoreOut()

	if gotScope != "sb://env/queue" {
		t.Fatalf("scope = %q", gotScope)
	}
}

// 6) Missing scope -> usage error before any provider is built
func TestToken_MissingScope(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"token"})()
	defer withEnv(t, map[string]string{"TOKEN_SCOPE": ""})()

	loadConfig = stubConfig("")
	newProvider = func(config.Config) (auth.Provider, error) {
		t.Fatal("provider must not be built without a scope")
		return nil, nil
	}

	restoreOut := captureStdout(t)
	code := mustExitCode(t, func() { main() })
	_ = restoreOut()

	if code != 2 {
		t.Fatalf("want exit 2, got %d", code)
	}
}

// 7) Retryable failures are retried by the caller, final ones are not
func TestToken_Retry(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"token", "sb://x/"})()

	loadConfig = stubConfig("")
	calls := 0
	newProvider = func(config.Config) (auth.Provider, error) {
		return providerFunc(func(context.Context, string) (auth.Token, error) {
			calls++
			if calls == 1 {
				return auth.Token{}, statusError(http.StatusServiceUnavailable)
			}
			return auth.Token{Value: "tok"}, nil
		}), nil
	}

	restoreOut := captureStdout(t)
	main()
	_ = restoreOut()

	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	calls = 0
	newProvider = func(config.Config) (auth.Provider, error) {
		return providerFunc(func(context.Context, string) (auth.Token, error) {
			calls++
			return auth.Token{}, statusError(http.StatusUnauthorized)
		}), nil
	}
	code := mustExitCode(t, func() { main() })
	if code != 1 || calls != 1 {
		t.Fatalf("code=%d calls=%d, want 1/1", code, calls)
	}
}

// 8) Provider init error -> exit 1
func TestToken_ProviderError(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"token", "sb://x/"})()

	loadConfig = stubConfig("")
	newProvider = func(config.Config) (auth.Provider, error) {
		return nil, errors.New("no credential")
	}

	if code := mustExitCode(t, func() { main() }); code != 1 {
		t.Fatalf("want exit 1, got %d", code)
	}
}

// 9) printToken formats
func TestPrintToken_Formats(t *testing.T) {
	tok := auth.Token{Value: "tok", Header: `WRAP access_token="tok"`, ExpiresAt: time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)}

	restoreOut := captureStdout(t)
	if err := printToken("header", tok); err != nil {
		t.Fatal(err)
	}
	if out := restoreOut(); strings.TrimSpace(out) != `WRAP access_token="tok"` {
		t.Fatalf("header out = %q", out)
	}

	restoreOut = captureStdout(t)
	if err := printToken("json", tok); err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(restoreOut()), &got); err != nil {
		t.Fatal(err)
	}
	if got["token"] != "tok" || got["expires_at"] != "2030-01-02T03:04:05Z" {
		t.Fatalf("json out = %v", got)
	}

	if err := printToken("yaml", tok); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

// 10) pickArgOrEnv: precedence Arg > Env > Default
func TestPickArgOrEnv_Precedence(t *testing.T) {
	defer withArgs(t, []string{"subcmd", "ARGVAL"})()
	defer withEnv(t, map[string]string{"MY_ENV": "ENVVAL"})()

	got := pickArgOrEnv(2, "MY_ENV", "DEFVAL")
	if got != "ARGVAL" {
		t.Fatalf("want ARGVAL, got %q", got)
	}

	// Without arg -> gets ENV
	defer withArgs(t, []string{"subcmd"})()
	got = pickArgOrEnv(2, "MY_ENV", "DEFVAL")
	if got != "ENVVAL" {
		t.Fatalf("want ENVVAL, got %q", got)
	}

	// Without arg and env -> default
	defer withEnv(t, map[string]string{"MY_ENV": ""})()
	got = pickArgOrEnv(2, "MY_ENV", "DEFVAL")
	if got != "DEFVAL" {
		t.Fatalf("want DEFVAL, got %q", got)
	}
}

// 11) withSignals: cancels context on SIGINT
func TestWithSignals_CancelsOnInterrupt(t *testing.T) {
	ctx := withSignals(context.Background())

	// Send SIGINT after a short delay to ensure signal.Notify has been registered.
	time.AfterFunc(100*time.Millisecond, func() {
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(os.Interrupt)
	})

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after os.Interrupt")
	}

	signal.Reset(os.Interrupt)
}

/* ------------------------------- test fakes ------------------------------ */

type providerFunc func(ctx context.Context, scope string) (auth.Token, error)

func (f providerFunc) Acquire(ctx context.Context, scope string) (auth.Token, error) {
	return f(ctx, scope)
}

func statusError(code int) error {
	req, _ := http.NewRequest(http.MethodPost, "https://ns-sb.accesscontrol.windows.net/WRAPv0.9/", nil)
	return &azcore.ResponseError{
		StatusCode: code,
		RawResponse: &http.Response{
			StatusCode: code,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		},
	}
}
