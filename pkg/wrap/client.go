// Package wrap acquires access tokens from the Access Control Service (ACS)
// using the WRAP v0.9 protocol.
//
// A Client posts an issuer name, its shared secret and a scope URI to
// https://{namespace}.{host}/WRAPv0.9/ and decodes the returned token.
// It performs exactly one round trip per call: caching, renewal and
// retrying are left to the caller.
package wrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrInvalidArgument is returned synchronously, before any network call.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	wrapPath = "WRAPv0.9/"

	contentTypeForm       = "application/x-www-form-urlencoded"
	headerContentType     = "Content-Type"
	headerClientRequestID = "X-Ms-Client-Request-Id"

	moduleName    = "acswrap"
	moduleVersion = "v0.1.0"
)

// Transport sends a single request. azcore's runtime.Pipeline satisfies it.
type Transport interface {
	Do(req *policy.Request) (*http.Response, error)
}

// ClientOptions configures New. The embedded azcore options shape the
// default pipeline (retry, logging, transporter). That pipeline sends one
// request per acquisition: a zero Retry.MaxRetries disables retries
// instead of taking the azcore default. Set it to a positive value to opt in.
type ClientOptions struct {
	policy.ClientOptions

	// Pipeline replaces the azcore pipeline built from ClientOptions.
	Pipeline Transport
	// Decoder defaults to FormDecoder.
	Decoder Decoder
}

// AcquireOptions is the per-call options bag. A nil *AcquireOptions is
// the same as the zero value.
type AcquireOptions struct {
	// Timeout bounds the round trip when > 0.
	Timeout time.Duration
	// Headers are added to the request. A Content-Type set here wins over
	// the form default.
	Headers http.Header
}

// RequestOptions is the normalized request handed to the transport.
type RequestOptions struct {
	Method  string
	Path    string
	Host    string
	Port    int
	Headers http.Header
}

// URL renders the request target. The port is omitted when it is the
// HTTPS default.
func (o RequestOptions) URL() string {
	host := o.Host
	if o.Port != 0 && o.Port != Port {
		host = net.JoinHostPort(host, strconv.Itoa(o.Port))
	}
	u := url.URL{Scheme: Scheme, Host: host, Path: NormalizePath(o.Path)}
	return u.String()
}

// Completion is the result of one acquisition. Token is nil whenever Err
// is set; Response is set whenever the transport produced one.
type Completion struct {
	Err      error
	Token    *AcsTokenResult
	Response *http.Response
}

// CompletionFunc receives the result of AcquireTokenAsync.
type CompletionFunc func(err error, token *AcsTokenResult, resp *http.Response)

// Client requests WRAP tokens for a fixed Identity. It is safe for
// concurrent use.
type Client struct {
	id      Identity
	pl      Transport
	decoder Decoder
}

// New returns a client for id. id is used as given; see Resolve.
func New(id Identity, opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}
	pl := opts.Pipeline
	if pl == nil {
		co := opts.ClientOptions
		if co.Retry.MaxRetries == 0 {
			co.Retry.MaxRetries = -1
		}
		pl = runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{}, &co)
	}
	dec := opts.Decoder
	if dec == nil {
		dec = FormDecoder{}
	}
	return &Client{id: id, pl: pl, decoder: dec}
}

// NewFromEnv resolves explicit against the process environment and
// returns a client for the result.
func NewFromEnv(explicit Identity, opts *ClientOptions) *Client {
	return New(Resolve(explicit, EnvFromOS()), opts)
}

// Identity returns the identity the client was built with.
func (c *Client) Identity() Identity { return c.id }

// RequestOptions builds the request shape for one acquisition.
func (c *Client) RequestOptions(opts *AcquireOptions) RequestOptions {
	headers := http.Header{}
	if opts != nil {
		for k, v := range opts.Headers {
			headers[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
	}
	if headers.Get(headerContentType) == "" {
		headers.Set(headerContentType, contentTypeForm)
	}
	return RequestOptions{
		Method:  http.MethodPost,
		Path:    NormalizePath(wrapPath),
		Host:    c.id.Hostname(),
		Port:    Port,
		Headers: headers,
	}
}

// AcquireToken requests a token for scopeURI. The raw response is returned
// whenever the transport produced one, including on error, so callers can
// inspect headers. Non-200 responses yield an *azcore.ResponseError.
// An empty or whitespace-only scopeURI fails with ErrInvalidArgument before
// any request is built.
func (c *Client) AcquireToken(ctx context.Context, scopeURI string, opts *AcquireOptions) (*AcsTokenResult, *http.Response, error) {
	if strings.TrimSpace(scopeURI) == "" {
		return nil, nil, fmt.Errorf("%w: scope uri must be specified", ErrInvalidArgument)
	}
	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ro := c.RequestOptions(opts)
	if ro.Headers.Get(headerClientRequestID) == "" {
		ro.Headers.Set(headerClientRequestID, uuid.NewString())
	}
	reqID := ro.Headers.Get(headerClientRequestID)

	req, err := newRequest(ctx, ro, formBody(c.id, scopeURI))
	if err != nil {
		return nil, nil, fmt.Errorf("build wrap request: %w", err)
	}

	start := time.Now()
	log.Debug().
		Str("action", "wrap_acquire").
		Str("host", ro.Host).
		Str("issuer", c.id.Issuer).
		Str("scope", scopeURI).
		Str("request_id", reqID).
		Msg("requesting token")

	resp, err := c.pl.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("action", "wrap_acquire").Str("request_id", reqID).Msg("transport error")
		return nil, resp, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		log.Debug().Int("status", resp.StatusCode).Str("action", "wrap_acquire").
			Str("request_id", reqID).Msg("non-200 response")
		return nil, resp, runtime.NewResponseError(resp)
	}

	body, err := runtime.Payload(resp)
	if err != nil {
		return nil, resp, fmt.Errorf("read wrap response: %w", err)
	}
	tok, err := c.decoder.Decode(body)
	if err != nil {
		log.Debug().Err(err).Str("action", "wrap_acquire").Str("request_id", reqID).Msg("decode failed")
		return nil, resp, err
	}

	log.Debug().
		Str("action", "wrap_acquire").
		Str("request_id", reqID).
		Time("expires_at", tok.ExpiresAt).
		Dur("elapsed_ms", time.Since(start)).
		Msg("token acquired")
	return tok, resp, nil
}

// AcquireTokenAsync runs AcquireToken on a new goroutine and calls done
// exactly once with its result. A nil done is rejected before any request
// is built.
func (c *Client) AcquireTokenAsync(ctx context.Context, scopeURI string, opts *AcquireOptions, done CompletionFunc) error {
	if done == nil {
		return fmt.Errorf("%w: completion func must be specified", ErrInvalidArgument)
	}
	go func() {
		tok, resp, err := c.AcquireToken(ctx, scopeURI, opts)
		done(err, tok, resp)
	}()
	return nil
}

// AcquireTokenChan is AcquireToken delivering its result on a channel that
// receives one Completion and is then closed.
func (c *Client) AcquireTokenChan(ctx context.Context, scopeURI string, opts *AcquireOptions) <-chan Completion {
	ch := make(chan Completion, 1)
	go func() {
		defer close(ch)
		tok, resp, err := c.AcquireToken(ctx, scopeURI, opts)
		ch <- Completion{Err: err, Token: tok, Response: resp}
	}()
	return ch
}

// formBody encodes the WRAP request fields in their fixed order.
func formBody(id Identity, scopeURI string) string {
	return "wrap_name=" + url.QueryEscape(id.Issuer) +
		"&wrap_password=" + url.QueryEscape(id.AccessKey) +
		"&wrap_scope=" + url.QueryEscape(scopeURI)
}

func newRequest(ctx context.Context, ro RequestOptions, body string) (*policy.Request, error) {
	req, err := runtime.NewRequest(ctx, ro.Method, ro.URL())
	if err != nil {
		return nil, err
	}
	for k, v := range ro.Headers {
		if k == headerContentType {
			continue
		}
		req.Raw().Header[k] = v
	}
	// SetBody owns Content-Type: it clears the header when given "".
	if err := req.SetBody(streaming.NopCloser(strings.NewReader(body)), ro.Headers.Get(headerContentType)); err != nil {
		return nil, err
	}
	return req, nil
}
