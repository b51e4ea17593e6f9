// Package apiclient is the dashboard's REST API gateway client.
//
// Every request goes through an interceptor chain: the bearer token is
// attached on the way out, and a 401 on the way back invalidates the token
// store. Responses are otherwise passed through to the endpoint methods,
// which decode the backend's error envelope into *dashauth.Error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/metrics"
)

// TokenSource is the part of the token store the client depends on.
type TokenSource interface {
	Read(ctx context.Context) (string, bool)
	Invalidate(ctx context.Context, reason dashauth.InvalidationReason)
}

// Endpoint paths, relative to the base URL.
const (
	PathLogin        = "/auth/login"
	PathRegister     = "/auth/register"
	PathMe           = "/auth/me"
	PathRefreshToken = "/auth/refresh-token"
	PathSocialLogin  = "/auth/social-login"
	PathLogout       = "/auth/logout"
)

const (
	defaultUserAgent = "dashauth-go"
	maxErrorBody     = 64 << 10
)

// Client implements dashauth.Backend over HTTP.
type Client struct {
	base      *url.URL
	http      *http.Client
	tokens    TokenSource
	logger    *slog.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
	userAgent string
	jar       http.CookieJar
}

var _ dashauth.Backend = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its transport is wrapped,
// not replaced; the client itself is copied.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTokenSource sets the token store consulted for every request and
// invalidated on 401.
func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) { cl.tokens = ts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithTimeout bounds each call whose context carries no deadline.
// Default: no timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithCookieJar makes the client send cookies from jar, such as the edge
// cookie kept by tokenstore.JarEdge.
func WithCookieJar(jar http.CookieJar) Option {
	return func(cl *Client) { cl.jar = jar }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("dashauth/apiclient: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("dashauth/apiclient: base url %q must be absolute", baseURL)
	}

	c := &Client{
		base:      u,
		logger:    slog.Default(),
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}

	hc := &http.Client{}
	if c.http != nil {
		copied := *c.http
		hc = &copied
	}
	if c.jar != nil {
		hc.Jar = c.jar
	}
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = &authTransport{
		next:      &loggingTransport{next: base, logger: c.logger, metrics: c.metrics},
		tokens:    c.tokens,
		userAgent: c.userAgent,
		logger:    c.logger,
	}
	c.http = hc
	return c, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenBody struct {
	Token string `json:"token"`
}

func (c *Client) Login(ctx context.Context, email, password string) (*dashauth.AuthResult, error) {
	var res dashauth.AuthResult
	if err := c.do(ctx, http.MethodPost, PathLogin, credentials{Email: email, Password: password}, &res); err != nil {
		return nil, err
	}
	if res.Token == "" || res.User == nil {
		return nil, fmt.Errorf("dashauth/apiclient: login response missing user or token")
	}
	return &res, nil
}

func (c *Client) Register(ctx context.Context, in dashauth.RegisterInput) (*dashauth.AuthResult, error) {
	var res dashauth.AuthResult
	if err := c.do(ctx, http.MethodPost, PathRegister, in, &res); err != nil {
		return nil, err
	}
	if res.Token == "" || res.User == nil {
		return nil, fmt.Errorf("dashauth/apiclient: register response missing user or token")
	}
	return &res, nil
}

// Me returns dashauth.ErrMissingToken, without any I/O, when no token can
// be attached.
func (c *Client) Me(ctx context.Context) (*dashauth.User, error) {
	token := c.token(ctx)
	if token == "" {
		return nil, dashauth.ErrMissingToken
	}
	var u dashauth.User
	if err := c.do(dashauth.WithToken(ctx, token), http.MethodGet, PathMe, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	var res tokenBody
	if err := c.do(ctx, http.MethodPost, PathRefreshToken, nil, &res); err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", fmt.Errorf("dashauth/apiclient: refresh response missing token")
	}
	return res.Token, nil
}

func (c *Client) SocialLogin(ctx context.Context, id dashauth.Identity) (string, error) {
	var res tokenBody
	if err := c.do(ctx, http.MethodPost, PathSocialLogin, id, &res); err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", fmt.Errorf("dashauth/apiclient: social-login response missing token")
	}
	return res.Token, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, PathLogout, nil, nil)
}

func (c *Client) token(ctx context.Context) string {
	if t := dashauth.TokenFromContext(ctx); t != "" {
		return t
	}
	if c.tokens != nil {
		t, _ := c.tokens.Read(ctx)
		return t
	}
	return ""
}

// do sends one JSON request. Transport failures are returned as they come
// from net/http; non-2xx responses become *dashauth.Error.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("dashauth/apiclient: encode %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("dashauth/apiclient: build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dashauth/apiclient: decode %s response: %w", path, err)
	}
	return nil
}

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func decodeError(resp *http.Response) *dashauth.Error {
	e := &dashauth.Error{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil {
		if env.Error != nil {
			e.Code, e.Message = env.Error.Code, env.Error.Message
		} else {
			e.Message = env.Message
		}
	}

	if kind, ok := dashauth.KindFromCode(e.Code); ok {
		e.Kind = kind
	} else {
		e.Kind = dashauth.KindFromStatus(resp.StatusCode)
		if e.Code == "" {
			e.Code = e.Kind.String()
		}
	}
	return e
}
