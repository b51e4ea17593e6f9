package authstate

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/audit"
	"github.com/chimerakang/dashauth/metrics"
)

// Machine owns one State. It is created by the composition root and
// injected into whatever renders or reacts to auth state. All methods are
// safe for concurrent use; when operations overlap, the last one to
// resolve wins.
type Machine struct {
	backend dashauth.Backend
	tokens  dashauth.TokenStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
	landing string

	// notify serialises reduce+publish so subscribers see states in order.
	notify sync.Mutex

	mu      sync.RWMutex
	state   State
	subs    map[int]func(State)
	nextSub int

	removeHook func()
}

// Option configures the Machine.
type Option func(*Machine)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithAudit sets the audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(m *Machine) { m.audit = a }
}

// WithLandingPath sets where HandleCallback sends a signed-in user.
// Default: dashauth.DefaultLandingPath.
func WithLandingPath(p string) Option {
	return func(m *Machine) { m.landing = p }
}

// New creates a machine over backend and tokens. The machine listens for
// token store invalidations until Close.
func New(backend dashauth.Backend, tokens dashauth.TokenStore, opts ...Option) *Machine {
	m := &Machine{
		backend: backend,
		tokens:  tokens,
		logger:  slog.Default(),
		landing: dashauth.DefaultLandingPath,
		subs:    make(map[int]func(State)),
	}
	for _, o := range opts {
		o(m)
	}
	m.removeHook = tokens.OnInvalidate(m.invalidated)
	return m
}

// FromClient creates a machine wired to the client's backend, token store,
// logger and landing path.
func FromClient(c *dashauth.Client, opts ...Option) *Machine {
	base := []Option{
		WithLogger(c.Logger()),
		WithLandingPath(c.Config().LandingPath),
	}
	return New(c.Backend(), c.Tokens(), append(base, opts...)...)
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers fn to receive every new state, in order. fn must not
// call Dispatch. The returned function unsubscribes.
func (m *Machine) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Dispatch applies e and publishes the resulting state.
func (m *Machine) Dispatch(e Event) State {
	m.notify.Lock()
	defer m.notify.Unlock()

	m.mu.Lock()
	m.state = Reduce(m.state, e)
	s := m.state
	subs := make([]func(State), 0, len(m.subs))
	for id := 0; id < m.nextSub; id++ {
		if fn, ok := m.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
	return s
}

// Hydrate seeds the state from the token store. A stored token counts as
// authenticated until the backend says otherwise.
func (m *Machine) Hydrate(ctx context.Context) State {
	token, _ := m.tokens.Read(ctx)
	return m.Dispatch(Hydrated{Token: token})
}

// Login signs in with credentials. On success the token is persisted.
// A deactivated account fails with dashauth.KindAccountDeactivated.
func (m *Machine) Login(ctx context.Context, email, password string) error {
	m.Dispatch(Pending{Op: OpLogin})

	if strings.TrimSpace(email) == "" || password == "" {
		return m.reject(ctx, OpLogin, email, dashauth.NewError(dashauth.KindValidation, "email and password are required"))
	}

	res, err := m.backend.Login(ctx, email, password)
	if err != nil {
		return m.reject(ctx, OpLogin, email, err)
	}
	m.fulfil(ctx, OpLogin, res)
	return nil
}

// Register creates an account and signs it in. The input is validated
// before any backend call.
func (m *Machine) Register(ctx context.Context, in dashauth.RegisterInput) error {
	m.Dispatch(Pending{Op: OpRegister})

	if err := in.Validate(); err != nil {
		return m.reject(ctx, OpRegister, in.Email, err)
	}

	res, err := m.backend.Register(ctx, in)
	if err != nil {
		return m.reject(ctx, OpRegister, in.Email, err)
	}
	m.fulfil(ctx, OpRegister, res)
	return nil
}

// GetCurrentUser loads the user owning the stored token. With no token it
// returns dashauth.ErrMissingToken and leaves authentication untouched.
func (m *Machine) GetCurrentUser(ctx context.Context) (*dashauth.User, error) {
	m.Dispatch(Pending{Op: OpCurrentUser})

	token, ok := m.tokens.Read(ctx)
	if !ok {
		m.Dispatch(MissingToken{Op: OpCurrentUser})
		return nil, dashauth.ErrMissingToken
	}

	u, err := m.backend.Me(dashauth.WithToken(ctx, token))
	if err != nil {
		if errors.Is(err, dashauth.ErrMissingToken) {
			m.Dispatch(MissingToken{Op: OpCurrentUser})
			return nil, err
		}
		e := dashauth.AsError(err)
		m.Dispatch(Rejected{Op: OpCurrentUser, Err: e})
		m.metrics.RecordAuthOperation(OpCurrentUser.String(), audit.ResultFailure)
		m.logger.DebugContext(ctx, "current_user_failed", slog.String("kind", e.Kind.String()))
		return nil, err
	}

	m.Dispatch(Fulfilled{Op: OpCurrentUser, User: u, Token: token})
	m.metrics.RecordAuthOperation(OpCurrentUser.String(), audit.ResultSuccess)
	return u, nil
}

// Logout notifies the backend, then clears the token store and resets the
// state whatever the backend said. It fails only if neither store could
// be cleared.
func (m *Machine) Logout(ctx context.Context) error {
	token, ok := m.tokens.Read(ctx)
	if ok {
		if err := m.backend.Logout(dashauth.WithToken(ctx, token)); err != nil {
			m.logger.WarnContext(ctx, "backend_logout_failed", slog.String("err", err.Error()))
		}
	}

	err := m.tokens.Clear(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "token_clear_failed", slog.String("err", err.Error()))
	}

	user := m.State().User
	m.Dispatch(LoggedOut{})
	m.metrics.RecordAuthOperation(OpLogout.String(), audit.ResultSuccess)

	ev := audit.Event{
		Action:           audit.ActionLogout,
		Result:           audit.ResultSuccess,
		TokenFingerprint: dashauth.Fingerprint(token),
	}
	if user != nil {
		ev.UserID, ev.Email = user.ID, user.Email
	}
	m.audit.Emit(ctx, ev)
	return err
}

// HandleCallback finishes a federated sign-in from the callback route
// query. It returns the path to continue to.
func (m *Machine) HandleCallback(ctx context.Context, q url.Values) (string, error) {
	if code := q.Get("error"); code != "" {
		e := dashauth.CallbackError(code)
		m.Dispatch(Rejected{Op: OpLogin, Err: e})
		m.metrics.RecordAuthOperation(OpLogin.String(), audit.ResultFailure)
		m.audit.Emit(ctx, audit.Event{
			Action: audit.ActionFederatedLogin,
			Result: audit.ResultFailure,
			Error:  code,
		})
		return "", e
	}

	token := q.Get("token")
	if token == "" {
		e := dashauth.CallbackError("")
		m.Dispatch(Rejected{Op: OpLogin, Err: e})
		return "", e
	}

	if err := m.tokens.Write(ctx, token); err != nil {
		m.logger.WarnContext(ctx, "token_store_write_failed", slog.String("err", err.Error()))
	}
	u, err := m.GetCurrentUser(ctx)
	if err != nil {
		return "", err
	}
	m.audit.Emit(ctx, audit.Event{
		Action:           audit.ActionFederatedLogin,
		Result:           audit.ResultSuccess,
		UserID:           u.ID,
		Email:            u.Email,
		TokenFingerprint: dashauth.Fingerprint(token),
	})
	return m.landing, nil
}

// SessionView is what the machine needs from a server-side session.
type SessionView struct {
	User    *dashauth.User
	Token   string
	Expired bool
}

// ApplySession folds a session evaluated by the edge tier into the state.
// An expired session drops the token and leaves a session-expired error.
func (m *Machine) ApplySession(ctx context.Context, v SessionView) State {
	switch {
	case v.Expired:
		m.tokens.Invalidate(ctx, dashauth.ReasonSessionExpired)
		return m.Dispatch(Rejected{Op: OpCurrentUser, Err: dashauth.ErrSessionExpired})

	case v.Token != "" && v.User != nil:
		if current, _ := m.tokens.Read(ctx); current != v.Token {
			if err := m.tokens.Write(ctx, v.Token); err != nil {
				m.logger.WarnContext(ctx, "token_store_write_failed", slog.String("err", err.Error()))
			}
		}
		return m.Dispatch(Fulfilled{Op: OpCurrentUser, User: v.User, Token: v.Token})
	}
	return m.State()
}

// Close stops listening for token store invalidations.
func (m *Machine) Close() error {
	if m.removeHook != nil {
		m.removeHook()
	}
	return nil
}

func (m *Machine) invalidated(ctx context.Context, reason dashauth.InvalidationReason) {
	m.Dispatch(Invalidated{Reason: reason})
	m.audit.Emit(ctx, audit.Event{
		Action:  audit.ActionTokenInvalidate,
		Result:  audit.ResultSuccess,
		Details: reason.String(),
	})
}

func (m *Machine) fulfil(ctx context.Context, op Op, res *dashauth.AuthResult) {
	if err := m.tokens.Write(ctx, res.Token); err != nil {
		m.logger.WarnContext(ctx, "token_store_write_failed", slog.String("op", op.String()), slog.String("err", err.Error()))
	}
	m.Dispatch(Fulfilled{Op: op, User: res.User, Token: res.Token})
	m.metrics.RecordAuthOperation(op.String(), audit.ResultSuccess)

	m.logger.InfoContext(ctx, "signed_in",
		slog.String("op", op.String()),
		slog.String("user_id", res.User.ID),
		slog.String("token_fp", dashauth.Fingerprint(res.Token)),
	)
	m.audit.Emit(ctx, audit.Event{
		Action:           auditAction(op),
		Result:           audit.ResultSuccess,
		UserID:           res.User.ID,
		Email:            res.User.Email,
		TokenFingerprint: dashauth.Fingerprint(res.Token),
	})
}

func (m *Machine) reject(ctx context.Context, op Op, email string, err error) error {
	e := dashauth.AsError(err)
	m.Dispatch(Rejected{Op: op, Err: e})
	m.metrics.RecordAuthOperation(op.String(), audit.ResultFailure)

	m.logger.InfoContext(ctx, "sign_in_failed",
		slog.String("op", op.String()),
		slog.String("kind", e.Kind.String()),
	)
	m.audit.Emit(ctx, audit.Event{
		Action: auditAction(op),
		Result: audit.ResultFailure,
		Email:  email,
		Error:  e.Kind.String(),
	})
	return err
}

func auditAction(op Op) string {
	if op == OpRegister {
		return audit.ActionRegister
	}
	return audit.ActionLogin
}
