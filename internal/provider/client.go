// Package provider holds the HTTP plumbing shared by payment provider
// adapters.
package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/oneway-checkout/internal/domain/payment"
)

// maxBody caps how much of a provider response is read.
const maxBody = 1 << 20

// Config is the transport part of an adapter configuration.
type Config struct {
	BaseURL string
	// Timeout bounds every call. Defaults to 20 seconds.
	Timeout time.Duration
	// Transport defaults to an otelhttp-instrumented default transport.
	Transport http.RoundTripper
}

// Client performs provider calls and maps failures to *payment.ProviderError.
type Client struct {
	provider payment.Provider
	http     *http.Client
	baseURL  string
}

// NewClient creates a Client for p.
func NewClient(p payment.Provider, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Client{
		provider: p,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// Request is one provider call.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
	// ContentType defaults to application/json when Body is set.
	ContentType string
}

// Response is a fully read provider response.
type Response struct {
	Status int
	Body   []byte
}

// OK reports whether the status is one of want.
func (r *Response) OK(want ...int) bool {
	for _, s := range want {
		if r.Status == s {
			return true
		}
	}
	return false
}

// Do performs req. Transport failures are returned as a *payment.ProviderError
// with zero status; HTTP statuses are left to the caller.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	r, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, c.Fail(0, "build request", err)
	}
	for k, v := range req.Header {
		r.Header[k] = v
	}
	r.Header.Set("Accept", "application/json")
	if req.Body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = "application/json"
		}
		r.Header.Set("Content-Type", ct)
	}

	resp, err := c.http.Do(r)
	if err != nil {
		summary := "provider unreachable"
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			summary = "provider timed out"
		}
		return nil, c.Fail(0, summary, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, c.Fail(resp.StatusCode, "read response", err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// Fail builds a provider error.
func (c *Client) Fail(status int, summary string, err error) *payment.ProviderError {
	return &payment.ProviderError{Provider: c.provider, Status: status, Summary: summary, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// AppendQuery adds key/value pairs to a redirect URL without re-encoding the
// parts already present, so provider placeholders such as {CHECKOUT_SESSION_ID}
// survive.
func AppendQuery(raw string, kv ...string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(raw)
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		b.WriteString(sep)
		b.WriteString(url.QueryEscape(kv[i]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[i+1]))
		sep = "&"
	}
	return b.String()
}
