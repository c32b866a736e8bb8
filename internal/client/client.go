// ABOUTME: HTTP client for the lectern gateway API built on resty
// ABOUTME: Maps error responses back to msgerr kinds so callers see the same taxonomy as the server

package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/lectern/internal/api"
	"github.com/2389/lectern/internal/msgerr"
)

// DefaultTimeout bounds each API request.
const DefaultTimeout = 15 * time.Second

// ErrUnauthorized is returned when the gateway rejects the token.
var ErrUnauthorized = errors.New("unauthorized")

// ErrPartialSeed is returned alongside the listing when some enrollment
// conversations could not be created.
var ErrPartialSeed = errors.New("partial enrollment seed")

// Client talks to one gateway as one user.
type Client struct {
	http    *resty.Client
	baseURL string
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses hc for API requests, e.g. httptest's client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc)
	}
}

// New creates a client for the gateway at baseURL that authenticates with
// the bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		http:    resty.New(),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http.
		SetBaseURL(c.baseURL).
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetTimeout(DefaultTimeout).
		SetError(&api.ErrorResponse{})

	return c
}

// responseError converts a non-2xx response into a classified error.
func responseError(op string, resp *resty.Response) error {
	msg := http.StatusText(resp.StatusCode())
	if e, ok := resp.Error().(*api.ErrorResponse); ok && e.Error != "" {
		msg = e.Error
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return msgerr.Validation(op, "%s", msg)
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %s", op, ErrUnauthorized, msg)
	case http.StatusForbidden:
		return msgerr.Forbidden(op, "%s", msg)
	case http.StatusNotFound:
		return msgerr.NotFound(op, errors.New(msg))
	case http.StatusConflict:
		return &msgerr.Error{Kind: msgerr.KindConflict, Op: op, Err: errors.New(msg)}
	default:
		return msgerr.Persistence(op, fmt.Errorf("gateway returned %d: %s", resp.StatusCode(), msg))
	}
}

// check wraps a transport error or a non-2xx response for op.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return responseError(op, resp)
	}
	return nil
}
