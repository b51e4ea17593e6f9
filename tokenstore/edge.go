package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/chimerakang/dashauth"
)

// CookieOptions defines how the edge token cookie is issued.
type CookieOptions struct {
	Name     string
	Path     string
	Domain   string
	MaxAge   time.Duration
	Secure   bool
	HttpOnly bool
	SameSite http.SameSite
}

// CookieOptionsFor returns the edge cookie named by cfg, with the
// dashboard defaults for everything else.
func CookieOptionsFor(cfg dashauth.Config) CookieOptions {
	return CookieOptions{Name: cfg.CookieName}
}

// normalize applies the dashboard defaults: path "/", one day, SameSite strict.
func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = dashauth.DefaultCookieName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.MaxAge <= 0 {
		o.MaxAge = dashauth.DefaultTokenWindow
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteStrictMode
	}
	return o
}

// Cookie builds the cookie carrying value, expiring MaxAge after now.
func (o CookieOptions) Cookie(value string, now time.Time) *http.Cookie {
	o = o.normalize()
	return &http.Cookie{
		Name:     o.Name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		Expires:  now.Add(o.MaxAge),
		MaxAge:   int(o.MaxAge / time.Second),
		Secure:   o.Secure,
		HttpOnly: o.HttpOnly,
		SameSite: o.SameSite,
	}
}

// Tombstone builds the empty cookie written by ClearToken.
func (o CookieOptions) Tombstone(now time.Time) *http.Cookie {
	return o.Cookie("", now)
}

// CookieName returns the effective cookie name.
func (o CookieOptions) CookieName() string {
	return o.normalize().Name
}

// MemoryEdge is an in-process edge store, standing in for a browser
// cookie in tests and embedded clients.
type MemoryEdge struct {
	mu      sync.Mutex
	value   string
	cleared bool
}

var _ dashauth.EdgeStore = (*MemoryEdge)(nil)

// NewMemoryEdge creates an empty in-memory edge store.
func NewMemoryEdge() *MemoryEdge { return &MemoryEdge{} }

func (e *MemoryEdge) ReadToken(context.Context) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.value != ""
}

func (e *MemoryEdge) WriteToken(_ context.Context, token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value, e.cleared = token, false
	return nil
}

func (e *MemoryEdge) ClearToken(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value, e.cleared = "", true
	return nil
}

func (e *MemoryEdge) Cleared(context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleared
}

// Expire drops the cookie as if its max-age had elapsed.
func (e *MemoryEdge) Expire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value, e.cleared = "", false
}

// JarEdge is an edge store backed by an http.CookieJar. Sharing the jar
// with the API client's http.Client makes the backend see the cookie the
// way a browser would send it.
type JarEdge struct {
	jar  http.CookieJar
	u    *url.URL
	opts CookieOptions
	now  func() time.Time
}

var _ dashauth.EdgeStore = (*JarEdge)(nil)

// NewJarEdge stores the cookie in jar for baseURL.
func NewJarEdge(jar http.CookieJar, baseURL string, opts CookieOptions) (*JarEdge, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("dashauth/tokenstore: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("dashauth/tokenstore: base url %q must be absolute", baseURL)
	}
	return &JarEdge{jar: jar, u: u, opts: opts.normalize(), now: time.Now}, nil
}

func (e *JarEdge) find() (*http.Cookie, bool) {
	for _, c := range e.jar.Cookies(e.u) {
		if c.Name == e.opts.Name {
			return c, true
		}
	}
	return nil, false
}

func (e *JarEdge) ReadToken(context.Context) (string, bool) {
	c, ok := e.find()
	if !ok || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (e *JarEdge) WriteToken(_ context.Context, token string) error {
	e.jar.SetCookies(e.u, []*http.Cookie{e.opts.Cookie(token, e.now())})
	return nil
}

func (e *JarEdge) ClearToken(context.Context) error {
	e.jar.SetCookies(e.u, []*http.Cookie{e.opts.Tombstone(e.now())})
	return nil
}

func (e *JarEdge) Cleared(context.Context) bool {
	c, ok := e.find()
	return ok && c.Value == ""
}

// FileEdge persists the edge cookie for a CLI profile. An expired cookie
// reads as absent, not cleared.
type FileEdge struct {
	path string
	opts CookieOptions
	now  func() time.Time
	mu   sync.Mutex
}

var _ dashauth.EdgeStore = (*FileEdge)(nil)

type fileCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

// NewFileEdge returns an edge store persisted at path.
func NewFileEdge(path string, opts CookieOptions) *FileEdge {
	return &FileEdge{path: path, opts: opts.normalize(), now: time.Now}
}

func (e *FileEdge) load() (*fileCookie, error) {
	data, err := os.ReadFile(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dashauth/tokenstore: read %s: %w", e.path, err)
	}
	var c fileCookie
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dashauth/tokenstore: decode %s: %w", e.path, err)
	}
	if c.Name != e.opts.Name || !e.now().Before(c.Expires) {
		return nil, nil
	}
	return &c, nil
}

func (e *FileEdge) store(value string) error {
	c := e.opts.Cookie(value, e.now())
	data, err := json.Marshal(fileCookie{Name: c.Name, Value: c.Value, Expires: c.Expires})
	if err != nil {
		return fmt.Errorf("dashauth/tokenstore: encode cookie: %w", err)
	}
	return writeFileAtomic(e.path, data)
}

func (e *FileEdge) ReadToken(context.Context) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.load()
	if err != nil || c == nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (e *FileEdge) WriteToken(_ context.Context, token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store(token)
}

func (e *FileEdge) ClearToken(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store("")
}

func (e *FileEdge) Cleared(context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.load()
	return err == nil && c != nil && c.Value == ""
}

// HTTPEdge is the edge store of one server request: it reads the request
// cookie and answers writes with Set-Cookie. Writes are remembered so later
// reads in the same request see them.
type HTTPEdge struct {
	w    http.ResponseWriter
	r    *http.Request
	opts CookieOptions
	now  func() time.Time

	mu      sync.Mutex
	written bool
	value   string
}

var _ dashauth.EdgeStore = (*HTTPEdge)(nil)

// NewHTTPEdge binds an edge store to one request/response pair.
func NewHTTPEdge(w http.ResponseWriter, r *http.Request, opts CookieOptions) *HTTPEdge {
	return &HTTPEdge{w: w, r: r, opts: opts.normalize(), now: time.Now}
}

func (e *HTTPEdge) current() (value string, present bool) {
	if e.written {
		return e.value, true
	}
	c, err := e.r.Cookie(e.opts.Name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (e *HTTPEdge) ReadToken(context.Context) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, _ := e.current()
	return v, v != ""
}

func (e *HTTPEdge) WriteToken(_ context.Context, token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	http.SetCookie(e.w, e.opts.Cookie(token, e.now()))
	e.written, e.value = true, token
	return nil
}

func (e *HTTPEdge) ClearToken(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	http.SetCookie(e.w, e.opts.Tombstone(e.now()))
	e.written, e.value = true, ""
	return nil
}

func (e *HTTPEdge) Cleared(context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, present := e.current()
	return present && v == ""
}

// RequestEdge returns read-only access to the token cookie of r.
func RequestEdge(r *http.Request, opts CookieOptions) dashauth.EdgeReader {
	return requestEdge{r: r, name: opts.CookieName()}
}

type requestEdge struct {
	r    *http.Request
	name string
}

func (e requestEdge) ReadToken(context.Context) (string, bool) {
	c, err := e.r.Cookie(e.name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
