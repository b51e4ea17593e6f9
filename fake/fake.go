// Package fake provides an in-memory dashboard backend for testing.
//
// Backend implements dashauth.Backend directly; NewHandler serves the same
// state over the REST endpoints the API client talks to. Use it in unit
// tests to avoid network calls and external dependencies.
package fake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/chimerakang/dashauth"
)

// Option configures the fake backend.
type Option func(*state)

type state struct {
	mu       sync.RWMutex
	users    map[string]*userEntry      // userID → entry
	byEmail  map[string]string          // lower(email) → userID
	tokens   map[string]tokenEntry      // token → entry
	socials  map[string]string          // provider:accountID → userID
	calls    map[string]int             // method → count
	failures map[string]*dashauth.Error // method → forced failure
	tokenTTL time.Duration
	cost     int
	now      func() time.Time
}

type userEntry struct {
	user dashauth.User
	hash []byte
}

type tokenEntry struct {
	userID    string
	expiresAt time.Time
}

// WithUser adds an active user with the given password.
func WithUser(id, name, email, password string, role dashauth.Role) Option {
	return func(s *state) {
		s.addUser(dashauth.User{ID: id, Name: name, Email: email, Role: role, Active: true}, password)
	}
}

// WithDeactivatedUser adds a user whose account has been deactivated.
func WithDeactivatedUser(id, name, email, password string, role dashauth.Role) Option {
	return func(s *state) {
		s.addUser(dashauth.User{ID: id, Name: name, Email: email, Role: role, Active: false}, password)
	}
}

// WithToken pre-issues token for userID.
func WithToken(token, userID string) Option {
	return func(s *state) {
		s.tokens[token] = tokenEntry{userID: userID, expiresAt: s.now().Add(s.tokenTTL)}
	}
}

// WithTokenTTL sets how long issued tokens stay valid. Default: 24h.
func WithTokenTTL(d time.Duration) Option {
	return func(s *state) { s.tokenTTL = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *state) { s.now = now }
}

// WithBcryptCost sets the password hashing cost. Default: bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *state) { s.cost = cost }
}

// WithFailure makes every call to method ("Login", "RefreshToken", ...)
// fail with err.
func WithFailure(method string, err *dashauth.Error) Option {
	return func(s *state) { s.failures[method] = err }
}

// Backend is an in-memory dashauth.Backend. Calls needing a bearer read it
// from dashauth.TokenFromContext.
type Backend struct{ s *state }

var _ dashauth.Backend = (*Backend)(nil)

// NewBackend creates an empty backend configured by opts.
func NewBackend(opts ...Option) *Backend {
	s := &state{
		users:    make(map[string]*userEntry),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]tokenEntry),
		socials:  make(map[string]string),
		calls:    make(map[string]int),
		failures: make(map[string]*dashauth.Error),
		tokenTTL: dashauth.DefaultTokenWindow,
		cost:     bcrypt.MinCost,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return &Backend{s: s}
}

func (s *state) addUser(u dashauth.User, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		panic(fmt.Sprintf("dashauth/fake: hash password: %v", err))
	}
	s.users[u.ID] = &userEntry{user: u, hash: hash}
	s.byEmail[strings.ToLower(u.Email)] = u.ID
}

// issueLocked mints a token for userID. Caller holds s.mu.
func (s *state) issueLocked(userID string) string {
	token := "tok_" + uuid.NewString()
	s.tokens[token] = tokenEntry{userID: userID, expiresAt: s.now().Add(s.tokenTTL)}
	return token
}

// begin counts the call and returns the configured failure, if any.
func (s *state) begin(method string) *dashauth.Error {
	s.calls[method]++
	return s.failures[method]
}

// userForTokenLocked resolves the bearer in ctx. Caller holds s.mu.
func (s *state) userForTokenLocked(ctx context.Context) (*userEntry, string, *dashauth.Error) {
	token := dashauth.TokenFromContext(ctx)
	if token == "" {
		return nil, "", dashauth.ErrMissingToken
	}
	te, ok := s.tokens[token]
	if !ok || !s.now().Before(te.expiresAt) {
		return nil, token, dashauth.NewError(dashauth.KindUnauthorized, "invalid or expired token")
	}
	u, ok := s.users[te.userID]
	if !ok {
		return nil, token, dashauth.NewError(dashauth.KindUnauthorized, "unknown user")
	}
	if !u.user.Active {
		return nil, token, dashauth.NewError(dashauth.KindAccountDeactivated, "account is deactivated")
	}
	return u, token, nil
}

func (b *Backend) Login(_ context.Context, email, password string) (*dashauth.AuthResult, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err := b.s.begin("Login"); err != nil {
		return nil, err
	}

	id, ok := b.s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, dashauth.NewError(dashauth.KindInvalidCredentials, "invalid email or password")
	}
	u := b.s.users[id]
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return nil, dashauth.NewError(dashauth.KindInvalidCredentials, "invalid email or password")
	}
	if !u.user.Active {
		return nil, dashauth.NewError(dashauth.KindAccountDeactivated, "account is deactivated")
	}

	user := u.user
	return &dashauth.AuthResult{User: &user, Token: b.s.issueLocked(id)}, nil
}

func (b *Backend) Register(_ context.Context, in dashauth.RegisterInput) (*dashauth.AuthResult, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err := b.s.begin("Register"); err != nil {
		return nil, err
	}

	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, exists := b.s.byEmail[strings.ToLower(in.Email)]; exists {
		return nil, dashauth.NewError(dashauth.KindConflict, "email already registered")
	}

	u := dashauth.User{ID: uuid.NewString(), Name: in.Name, Email: in.Email, Role: in.Role, Active: true}
	b.s.addUser(u, in.Password)
	return &dashauth.AuthResult{User: &u, Token: b.s.issueLocked(u.ID)}, nil
}

func (b *Backend) Me(ctx context.Context) (*dashauth.User, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err := b.s.begin("Me"); err != nil {
		return nil, err
	}

	u, _, err := b.s.userForTokenLocked(ctx)
	if err != nil {
		return nil, err
	}
	user := u.user
	return &user, nil
}

func (b *Backend) RefreshToken(ctx context.Context) (string, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err := b.s.begin("RefreshToken"); err != nil {
		return "", err
	}

	// Refresh accepts a token past its expiry; only unknown tokens fail.
	token := dashauth.TokenFromContext(ctx)
	te, ok := b.s.tokens[token]
	if token == "" || !ok {
		return "", dashauth.NewError(dashauth.KindUnauthorized, "invalid token")
	}
	if u, ok := b.s.users[te.userID]; !ok || !u.user.Active {
		return "", dashauth.NewError(dashauth.KindUnauthorized, "invalid token")
	}
	return b.s.issueLocked(te.userID), nil
}

func (b *Backend) SocialLogin(_ context.Context, id dashauth.Identity) (string, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err := b.s.begin("SocialLogin"); err != nil {
		return "", err
	}

	if id.Provider == "" || id.ProviderAccountID == "" || id.Email == "" {
		return "", dashauth.NewError(dashauth.KindValidation, "incomplete identity")
	}
	link := id.Provider + ":" + id.ProviderAccountID
	userID, ok := b.s.socials[link]
	if !ok {
		userID, ok = b.s.byEmail[strings.ToLower(id.Email)]
	}
	if !ok {
		if !id.EmailVerified {
			return "", dashauth.NewError(dashauth.KindUnauthorized, "unverified email")
		}
		name := id.Name
		if name == "" {
			name = id.Email
		}
		u := dashauth.User{ID: uuid.NewString(), Name: name, Email: id.Email, Role: dashauth.RolePromoter, Active: true}
		b.s.users[u.ID] = &userEntry{user: u}
		b.s.byEmail[strings.ToLower(u.Email)] = u.ID
		userID = u.ID
	}
	if !b.s.users[userID].user.Active {
		return "", dashauth.NewError(dashauth.KindAccountDeactivated, "account is deactivated")
	}
	b.s.socials[link] = userID
	return b.s.issueLocked(userID), nil
}

func (b *Backend) Logout(ctx context.Context) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err := b.s.begin("Logout"); err != nil {
		return err
	}
	delete(b.s.tokens, dashauth.TokenFromContext(ctx))
	return nil
}

// Calls returns how many times method was invoked.
func (b *Backend) Calls(method string) int {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.calls[method]
}

// Issue mints a valid token for userID, as a sign-in elsewhere would.
func (b *Backend) Issue(userID string) (string, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if _, ok := b.s.users[userID]; !ok {
		return "", fmt.Errorf("dashauth/fake: user %q not found", userID)
	}
	return b.s.issueLocked(userID), nil
}

// Revoke invalidates token.
func (b *Backend) Revoke(token string) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	delete(b.s.tokens, token)
}

// Deactivate marks the user's account as deactivated.
func (b *Backend) Deactivate(userID string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	u, ok := b.s.users[userID]
	if !ok {
		return fmt.Errorf("dashauth/fake: user %q not found", userID)
	}
	u.user.Active = false
	return nil
}

// SetFailure makes method fail with err; a nil err clears it.
func (b *Backend) SetFailure(method string, err *dashauth.Error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if err == nil {
		delete(b.s.failures, method)
		return
	}
	b.s.failures[method] = err
}

// ErrNotFound is returned by Lookup.
var ErrNotFound = errors.New("dashauth/fake: not found")

// Lookup returns the user that owns token.
func (b *Backend) Lookup(token string) (*dashauth.User, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	te, ok := b.s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	u := b.s.users[te.userID].user
	return &u, nil
}
