// Package guard is the edge route guard: a stateless, presence-only check
// run once per navigation before any protected content is served.
//
// The guard sees only the edge token cookie. It never validates the token;
// that is left to the session engine and the backend.
package guard

import (
	"context"
	"net/http"
	"strings"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/metrics"
	"github.com/chimerakang/dashauth/tokenstore"
)

// Rule identifies which classification rule produced a Decision.
type Rule string

const (
	// RulePublicWithToken: a signed-in user asked for a public page.
	RulePublicWithToken Rule = "public_with_token"
	// RuleProtectedNoToken: an anonymous user asked for a protected page.
	RuleProtectedNoToken Rule = "protected_no_token"
	// RuleAllow: any other combination.
	RuleAllow Rule = "allow"
	// RuleBypass: the path is not a page route.
	RuleBypass Rule = "bypass"
	// RulePassthrough: the page is served whether or not a token is present.
	RulePassthrough Rule = "passthrough"
)

// Decision is the outcome of one navigation check.
type Decision struct {
	Allow    bool
	Location string
	Rule     Rule
}

// DefaultPublicPaths are reachable without a token.
var DefaultPublicPaths = []string{"/", dashauth.DefaultLoginPath, "/register"}

// DefaultPassthroughPaths are pages served with or without a token. The
// callback route arrives with its token in the URL, possibly while an older
// edge cookie is still present, so neither rule may redirect it.
var DefaultPassthroughPaths = []string{dashauth.CallbackPath}

// DefaultBypassPrefixes never reach classification. An entry ending in "/"
// matches every path below it; any other entry matches exactly.
var DefaultBypassPrefixes = []string{"/api/", "/static/", "/healthz", "/metrics"}

// Guard classifies paths and decides redirects.
type Guard struct {
	public  map[string]bool
	through map[string]bool
	bypass  []string
	login   string
	landing string
	cookie  tokenstore.CookieOptions
	metrics *metrics.Metrics
}

// Option configures the Guard.
type Option func(*Guard)

// WithPublicPaths replaces the public allow-list. Matching is exact.
func WithPublicPaths(paths ...string) Option {
	return func(g *Guard) { g.public = pathSet(paths) }
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}

// WithPassthroughPaths replaces the pages that skip both redirect rules.
// Matching is exact.
func WithPassthroughPaths(paths ...string) Option {
	return func(g *Guard) { g.through = pathSet(paths) }
}

// WithBypassPrefixes replaces the entries that skip the guard. An entry
// ending in "/" is a prefix; any other entry is an exact path.
func WithBypassPrefixes(prefixes ...string) Option {
	return func(g *Guard) { g.bypass = prefixes }
}

// WithLoginPath sets where anonymous users are sent.
func WithLoginPath(p string) Option {
	return func(g *Guard) { g.login = p }
}

// WithLandingPath sets where signed-in users are sent.
func WithLandingPath(p string) Option {
	return func(g *Guard) { g.landing = p }
}

// WithCookie sets the edge cookie the guard reads.
func WithCookie(o tokenstore.CookieOptions) Option {
	return func(g *Guard) { g.cookie = o }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New creates a guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		bypass:  DefaultBypassPrefixes,
		login:   dashauth.DefaultLoginPath,
		landing: dashauth.DefaultLandingPath,
	}
	WithPublicPaths(DefaultPublicPaths...)(g)
	WithPassthroughPaths(DefaultPassthroughPaths...)(g)
	for _, o := range opts {
		o(g)
	}
	return g
}

// IsPublic reports whether path is on the allow-list.
func (g *Guard) IsPublic(path string) bool {
	return g.public[path]
}

// Bypassed reports whether path skips the guard entirely.
func (g *Guard) Bypassed(path string) bool {
	for _, p := range g.bypass {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
		} else if path == p {
			return true
		}
	}
	return false
}

// Decide applies the guard rules to path.
func (g *Guard) Decide(path string, hasToken bool) Decision {
	if g.Bypassed(path) {
		return Decision{Allow: true, Rule: RuleBypass}
	}
	if g.through[path] {
		return Decision{Allow: true, Rule: RulePassthrough}
	}
	public := g.IsPublic(path)
	switch {
	case public && hasToken:
		return Decision{Location: g.landing, Rule: RulePublicWithToken}
	case !public && !hasToken:
		return Decision{Location: g.login, Rule: RuleProtectedNoToken}
	}
	return Decision{Allow: true, Rule: RuleAllow}
}

// Check decides for a request, reading only the edge cookie.
func (g *Guard) Check(r *http.Request) Decision {
	return g.CheckEdge(r.Context(), r.URL.Path, tokenstore.RequestEdge(r, g.cookie))
}

// CheckEdge decides for path using edge for token presence.
func (g *Guard) CheckEdge(ctx context.Context, path string, edge dashauth.EdgeReader) Decision {
	_, ok := edge.ReadToken(ctx)
	d := g.Decide(path, ok)
	g.metrics.RecordGuardDecision(string(d.Rule))
	return d
}

// Middleware redirects with 307 whenever the guard does not allow the
// request through.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Check(r)
		if !d.Allow {
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}
