package wrap

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedResponse is returned when a 200 response body is not a valid
// WRAP token response.
var ErrMalformedResponse = errors.New("malformed wrap response")

// Form fields of a WRAP v0.9 token response.
const (
	fieldAccessToken = "wrap_access_token"
	fieldExpiresIn   = "wrap_access_token_expires_in"
)

// AcsTokenResult is a token issued by ACS.
type AcsTokenResult struct {
	// Token is the SWT to send as "WRAP access_token=\"...\"".
	Token     string
	ExpiresIn time.Duration
	ExpiresAt time.Time
}

// AuthorizationHeader formats the token for the Authorization header of
// requests to the scoped resource.
func (r *AcsTokenResult) AuthorizationHeader() string {
	return `WRAP access_token="` + r.Token + `"`
}

// Expired reports whether the token is past its expiry at now.
func (r *AcsTokenResult) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Decoder turns a raw WRAP response body into a token.
type Decoder interface {
	Decode(body []byte) (*AcsTokenResult, error)
}

// FormDecoder decodes the form-urlencoded body ACS returns.
type FormDecoder struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d FormDecoder) Decode(body []byte) (*AcsTokenResult, error) {
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	token := values.Get(fieldAccessToken)
	if token == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedResponse, fieldAccessToken)
	}

	raw := values.Get(fieldExpiresIn)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedResponse, fieldExpiresIn)
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformedResponse, fieldExpiresIn, raw)
	}
	if secs > math.MaxInt64/int64(time.Second) {
		return nil, fmt.Errorf("%w: %s %q out of range", ErrMalformedResponse, fieldExpiresIn, raw)
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	expiresIn := time.Duration(secs) * time.Second
	return &AcsTokenResult{
		Token:     token,
		ExpiresIn: expiresIn,
		ExpiresAt: now().Add(expiresIn),
	}, nil
}
