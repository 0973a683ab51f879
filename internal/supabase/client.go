// Package supabase talks to the managed auth admin API and the PostgREST
// remote procedure endpoint.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"provisioner/internal/provisioning/ports"
	"provisioner/pkg/platform/circuit"
	"provisioner/pkg/platform/sentinel"
)

// Config holds the connection settings.
type Config struct {
	BaseURL        string
	ServiceRoleKey string
	JWTSecret      string
	CallTimeout    time.Duration
	RetryMax       int
	RetryBaseDelay time.Duration
}

// Factory opens per-request backend handles sharing one pooled HTTP client.
type Factory struct {
	cfg      Config
	base     *url.URL
	http     HTTPDoer
	retry    HTTPDoer
	cleanup  HTTPDoer
	verifier *TokenVerifier
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type Option func(*Factory)

// WithHTTPClient replaces the pooled client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(f *Factory) {
		f.http = c
	}
}

// WithBreaker replaces the default circuit breaker shared by every call.
func WithBreaker(b *circuit.Breaker) Option {
	return func(f *Factory) {
		f.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// NewFactory validates cfg and prepares the shared transport.
func NewFactory(cfg Config, opts ...Option) (*Factory, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.ServiceRoleKey == "" {
		return nil, errors.New("service role key is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	f := &Factory{
		cfg:      cfg,
		base:     base,
		http:     &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		verifier: NewTokenVerifier(cfg.JWTSecret),
		breaker:  circuit.New("supabase"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	// Compensating deletes must reach the provider even while the circuit is
	// open, so they bypass the breaker.
	f.cleanup = NewRetryDoer(f.http, f.logger, cfg.RetryMax, cfg.RetryBaseDelay)
	f.http = NewBreakerDoer(f.http, f.breaker, f.logger)
	f.retry = NewRetryDoer(f.http, f.logger, cfg.RetryMax, cfg.RetryBaseDelay)
	return f, nil
}

// Open returns a fresh backend handle. It holds no state beyond the request.
func (f *Factory) Open(_ context.Context) (*ports.Backend, error) {
	c := &Client{factory: f}
	return &ports.Backend{Identity: c, Store: c}, nil
}

// Client implements both the identity service and the domain store for one request.
type Client struct {
	factory *Factory
}

type call struct {
	method  string
	path    string
	query   url.Values
	body    any
	bearer  string
	headers map[string]string
	retry   bool
	cleanup bool
}

// do runs one backend call under its own deadline and decodes the JSON
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	f := c.factory
	ctx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
	defer cancel()

	u := *f.base
	u.Path = u.Path + cl.path
	u.RawQuery = cl.query.Encode()

	var body io.Reader
	var payload []byte
	if cl.body != nil {
		var err error
		payload, err = json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", cl.method, cl.path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
	}
	bearer := cl.bearer
	if bearer == "" {
		bearer = f.cfg.ServiceRoleKey
	}
	req.Header.Set("apikey", f.cfg.ServiceRoleKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cl.headers {
		req.Header.Set(k, v)
	}

	doer := f.http
	switch {
	case cl.cleanup:
		doer = f.cleanup
	case cl.retry:
		doer = f.retry
	}
	resp, err := doer.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", cl.method, cl.path, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s %s: read body: %w", cl.method, cl.path, err)
		}
		*raw = b
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode body: %w", cl.method, cl.path, err)
	}
	return nil
}
