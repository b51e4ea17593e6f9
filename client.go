// Package dashauth is the session and token lifecycle core of the promotion
// dashboard.
//
// The root package defines the shared vocabulary: the capability interfaces
// for the two token stores (ScriptStore, EdgeReader, EdgeStore), the
// TokenStore that reconciles them, the Backend REST contract, the closed
// ErrorKind set and the User/Role model. Concrete implementations are
// injected via Option functions:
//
//	client, err := dashauth.NewClient(
//	    dashauth.Config{BaseURL: "https://api.example.com"},
//	    dashauth.WithTokenStore(store),
//	    dashauth.WithBackend(api),
//	)
//
// Subpackages provide the parts: tokenstore (dual store), apiclient (REST
// client with auth interceptors), authstate (client auth state machine),
// session (edge session engine) and guard (route guard).
package dashauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Client bundles the capabilities one dashboard agent (a browser profile,
// a CLI profile) shares across its tabs.
type Client struct {
	config  Config
	logger  *slog.Logger
	tokens  TokenStore
	backend Backend
	closers []io.Closer
}

// Config holds connection and behavior configuration.
type Config struct {
	// BaseURL is the backend REST API root, e.g. "https://api.example.com/api".
	BaseURL string

	// TokenKey is the script store key. Default: DefaultTokenKey.
	TokenKey string

	// CookieName is the edge cookie name. Default: DefaultCookieName.
	CookieName string

	// LandingPath is where authenticated users land. Default: DefaultLandingPath.
	LandingPath string
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenStore sets the dual token store.
func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.tokens = s }
}

// WithBackend sets the backend implementation.
func WithBackend(b Backend) Option {
	return func(c *Client) { c.backend = b }
}

// WithCloser registers a resource released by Close, such as a Redis
// connection behind a script store.
func WithCloser(cl io.Closer) Option {
	return func(c *Client) { c.closers = append(c.closers, cl) }
}

// NewClient creates a client with the given configuration and options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("dashauth: BaseURL is required")
	}
	if cfg.TokenKey == "" {
		cfg.TokenKey = DefaultTokenKey
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.LandingPath == "" {
		cfg.LandingPath = DefaultLandingPath
	}

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Tokens returns the token store, or nil if not configured.
func (c *Client) Tokens() TokenStore { return c.tokens }

// Backend returns the backend, or nil if not configured.
func (c *Client) Backend() Backend { return c.backend }

// HealthCheck reports whether the client can serve auth operations.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.tokens == nil {
		return fmt.Errorf("dashauth: token store not configured")
	}
	if c.backend == nil {
		return fmt.Errorf("dashauth: backend not configured")
	}
	return nil
}

// Close releases all resources held by the client.
// Registered closers and any injected service implementing io.Closer are closed.
func (c *Client) Close() error {
	closers := append([]io.Closer(nil), c.closers...)
	for _, svc := range []any{c.tokens, c.backend} {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			closers = append(closers, cl)
		}
	}
	var errs []error
	for _, cl := range closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
