// Package server is the dashboard web server: the route guard in front of
// every page, and the session engine's endpoints under /api/auth.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/guard"
	"github.com/chimerakang/dashauth/guard/ginguard"
	"github.com/chimerakang/dashauth/metrics"
	"github.com/chimerakang/dashauth/session"
	"github.com/chimerakang/dashauth/session/provider"
	"github.com/chimerakang/dashauth/tokenstore"
)

// Server wires the session engine, session store, providers and guard
// into one gin router.
type Server struct {
	engine    *session.Engine
	store     session.Store
	providers *provider.Registry
	guard     *guard.Guard
	edge      tokenstore.CookieOptions
	logger    *slog.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	secure    bool
	pages     []string

	router *gin.Engine
}

// Option configures the Server.
type Option func(*Server)

// WithProviders sets the federated sign-in providers.
func WithProviders(r *provider.Registry) Option {
	return func(s *Server) { s.providers = r }
}

// WithGuard sets the route guard. It must read the same edge cookie as
// WithEdgeCookie.
func WithGuard(g *guard.Guard) Option {
	return func(s *Server) { s.guard = g }
}

// WithEdgeCookie sets how the edge token cookie is issued.
func WithEdgeCookie(o tokenstore.CookieOptions) Option {
	return func(s *Server) { s.edge = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics sink and the gatherer served on /metrics.
// A nil gatherer disables the endpoint.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) { s.metrics, s.gatherer = m, g }
}

// WithSecureCookies marks the OAuth state cookies Secure.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) { s.secure = secure }
}

// WithPages replaces the placeholder dashboard pages.
func WithPages(paths ...string) Option {
	return func(s *Server) { s.pages = paths }
}

// DefaultPages are the placeholder pages served behind the guard. The
// callback route is always served.
var DefaultPages = []string{
	"/", "/login", "/register",
	"/dashboard", "/products", "/promotions", "/earnings",
}

// New creates a server.
func New(engine *session.Engine, store session.Store, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		store:     store,
		providers: provider.NewRegistry(),
		logger:    slog.Default(),
		pages:     DefaultPages,
	}
	for _, o := range opts {
		o(s)
	}
	if s.guard == nil {
		s.guard = guard.New(guard.WithCookie(s.edge), guard.WithMetrics(s.metrics))
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		requestID(),
		accessLog(s.logger),
		recovery(s.logger),
		ginguard.Guard(s.guard),
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/auth")
	api.GET("/providers", s.listProviders)
	api.POST("/callback/credentials", s.signInCredentials)
	api.GET("/signin/:provider", s.signInProvider)
	api.GET("/callback/:provider", s.callbackProvider)
	api.GET("/session", s.getSession)
	api.POST("/signout", s.signOut)

	r.GET(dashauth.CallbackPath, s.callbackPage)
	for _, p := range s.pages {
		if p == dashauth.CallbackPath {
			continue
		}
		r.GET(p, s.page)
	}
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "not found")
	})
	return r
}

func (s *Server) edgeFor(c *gin.Context) *tokenstore.HTTPEdge {
	return tokenstore.NewHTTPEdge(c.Writer, c.Request, s.edge)
}
