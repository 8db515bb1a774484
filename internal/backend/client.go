// Package backend is the HTTP client of the order management backend. It
// implements order.Client and stock.Backend.
package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/stock"
)

var (
	_ order.Client  = (*Client)(nil)
	_ stock.Backend = (*Client)(nil)
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Config configures a Client.
type Config struct {
	// BaseURL of the backend API, e.g. https://admin.example.com/api.
	BaseURL string
	// Token is sent as "Authorization: Token <Token>".
	Token string
	// Timeout bounds every call. Defaults to 15 seconds.
	Timeout time.Duration
	// Transport defaults to an otelhttp-instrumented default transport.
	Transport http.RoundTripper
}

// Client talks to the order backend.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}, nil
}

// Configured reports whether an API token is set.
func (c *Client) Configured() bool {
	return c.token != ""
}

type response struct {
	status int
	body   []byte
}

// do performs one call. Transport failures return a *order.BackendError with
// zero status; HTTP statuses are left to the caller.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, &order.BackendError{Op: op, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &order.BackendError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &order.BackendError{Op: op, Status: resp.StatusCode, Err: errors.Wrap(err, "read body")}
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// statusError maps a non-success status to the order error taxonomy. Only
// statuses that describe the submitted order become validation errors;
// credential, throttling and server faults stay backend errors.
func statusError(op string, resp *response) error {
	switch resp.status {
	case http.StatusNotFound:
		return errors.Wrap(order.ErrNotFound, op)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		msgs, err := decodeMessages(resp.body)
		if err != nil || len(msgs) == 0 {
			msgs = []string{http.StatusText(resp.status)}
		}
		return &order.ValidationError{Messages: msgs}
	default:
		return &order.BackendError{Op: op, Status: resp.status}
	}
}
