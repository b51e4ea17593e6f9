package session

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/audit"
	"github.com/chimerakang/dashauth/logctx"
	"github.com/chimerakang/dashauth/metrics"
)

// Engine evaluates and mutates session records. It is safe for concurrent
// use; refreshes of the same token within one process share a single
// backend call.
type Engine struct {
	backend dashauth.Backend
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger

	sf singleflight.Group
}

// Option configures the Engine.
type Option func(*Engine)

// WithTokenWindow sets how long a token is used before it is refreshed.
// Default: dashauth.DefaultTokenWindow.
func WithTokenWindow(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAudit sets the audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(e *Engine) { e.audit = a }
}

// NewEngine creates an engine calling backend.
func NewEngine(backend dashauth.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		window:  dashauth.DefaultTokenWindow,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate returns rec as it stands after this access. rec is not
// modified; a nil rec is unset.
//
//   - expired stays expired unless the edge store holds a different token
//   - unset adopts the edge token, if any
//   - active adopts a different edge token (another tab signed in)
//   - active expires when the edge token was explicitly cleared
//   - active past its token window is refreshed; failure expires it
func (e *Engine) Evaluate(ctx context.Context, rec *Record, edge dashauth.EdgeStore) *Record {
	r := Record{}
	if rec != nil {
		r = *rec
	}
	edgeTok, hasEdge := edge.ReadToken(ctx)

	switch from := r.State(); from {
	case StateExpired, StateUnset:
		if hasEdge && edgeTok != r.Token {
			return e.adopt(ctx, &r, from, edgeTok, edge)
		}
		return &r
	}

	if hasEdge && edgeTok != r.Token {
		return e.adopt(ctx, &r, StateActive, edgeTok, edge)
	}
	if !hasEdge && edge.Cleared(ctx) {
		e.expire(ctx, &r, StateActive, "edge_cleared")
		return &r
	}
	if !e.now().After(r.TokenExpiresAt()) {
		return &r
	}
	return e.refresh(ctx, &r, edge)
}

// adopt folds a token found in the edge store into r.
func (e *Engine) adopt(ctx context.Context, r *Record, from State, token string, edge dashauth.EdgeStore) *Record {
	log := logctx.Or(ctx, e.logger)

	u, err := e.backend.Me(dashauth.WithToken(ctx, token))
	if err != nil {
		kind := dashauth.KindOf(err)
		log.WarnContext(ctx, "session_adopt_failed",
			slog.String("token_fp", dashauth.Fingerprint(token)),
			slog.String("kind", kind.String()),
		)
		switch kind {
		case dashauth.KindUnauthorized, dashauth.KindAccountDeactivated, dashauth.KindInvalidCredentials:
			// The edge token is dead; drop it so it is not retried.
			if err := edge.ClearToken(ctx); err != nil {
				log.WarnContext(ctx, "edge_clear_failed", slog.String("err", err.Error()))
			}
			if from == StateActive {
				e.expire(ctx, r, from, "adopt_rejected")
			}
		}
		return r
	}

	prev := r.UserID
	r.setUser(u)
	r.Token = token
	r.TokenExpiry = e.now().Add(e.window).UnixMilli()
	r.Expired = false

	e.transition(ctx, from, StateActive, "adopt", token)
	e.audit.Emit(ctx, audit.Event{
		Action:           audit.ActionSessionAdopt,
		Result:           audit.ResultSuccess,
		UserID:           u.ID,
		Email:            u.Email,
		TokenFingerprint: dashauth.Fingerprint(token),
		Details:          "previous_user=" + prev,
	})
	return r
}

func (e *Engine) refresh(ctx context.Context, r *Record, edge dashauth.EdgeStore) *Record {
	e.transition(ctx, StateActive, StateRefreshing, "token_window_elapsed", r.Token)

	start := e.now()
	old := r.Token
	// The refresh is shared by every caller holding old, so it must not end
	// when the first caller's request does.
	detached := context.WithoutCancel(ctx)
	v, err, joined := e.sf.Do(old, func() (any, error) {
		return e.backend.RefreshToken(dashauth.WithToken(detached, old))
	})
	elapsed := e.now().Sub(start).Seconds()

	if err != nil {
		logctx.Or(ctx, e.logger).WarnContext(ctx, "session_refresh_failed",
			slog.String("token_fp", dashauth.Fingerprint(old)),
			slog.String("kind", dashauth.KindOf(err).String()),
			slog.Bool("shared", joined),
		)
		e.metrics.RecordRefresh(audit.ResultFailure, elapsed)
		e.expireAndClear(ctx, r, edge, "refresh_failed")
		return r
	}

	// A clear that landed while the refresh was in flight wins.
	if edge.Cleared(ctx) {
		e.metrics.RecordRefresh("discarded", elapsed)
		e.expire(ctx, r, StateRefreshing, "cleared_during_refresh")
		return r
	}

	token := v.(string)
	r.Token = token
	r.TokenExpiry = e.now().Add(e.window).UnixMilli()
	if err := edge.WriteToken(ctx, token); err != nil {
		logctx.Or(ctx, e.logger).WarnContext(ctx, "edge_write_failed", slog.String("err", err.Error()))
	}

	e.metrics.RecordRefresh(audit.ResultSuccess, elapsed)
	e.transition(ctx, StateRefreshing, StateActive, "refreshed", token)
	e.audit.Emit(ctx, audit.Event{
		Action:           audit.ActionSessionRefresh,
		Result:           audit.ResultSuccess,
		UserID:           r.UserID,
		TokenFingerprint: dashauth.Fingerprint(token),
	})
	return r
}

func (e *Engine) expireAndClear(ctx context.Context, r *Record, edge dashauth.EdgeStore, reason string) {
	if err := edge.ClearToken(ctx); err != nil {
		logctx.Or(ctx, e.logger).WarnContext(ctx, "edge_clear_failed", slog.String("err", err.Error()))
	}
	e.expire(ctx, r, StateRefreshing, reason)
}

func (e *Engine) expire(ctx context.Context, r *Record, from State, reason string) {
	r.Expired = true
	e.transition(ctx, from, StateExpired, reason, r.Token)
	e.audit.Emit(ctx, audit.Event{
		Action:           audit.ActionSessionExpire,
		Result:           audit.ResultSuccess,
		UserID:           r.UserID,
		TokenFingerprint: dashauth.Fingerprint(r.Token),
		Details:          reason,
	})
}

func (e *Engine) transition(ctx context.Context, from, to State, reason, token string) {
	logctx.Or(ctx, e.logger).InfoContext(ctx, "session_transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
		slog.String("token_fp", dashauth.Fingerprint(token)),
	)
	e.metrics.RecordSessionTransition(string(from), string(to))
}

// SignInCredentials exchanges credentials for a new active record and
// writes the token to the edge store.
func (e *Engine) SignInCredentials(ctx context.Context, email, password string, edge dashauth.EdgeStore) (*Record, error) {
	res, err := e.backend.Login(ctx, email, password)
	if err != nil {
		e.audit.Emit(ctx, audit.Event{
			Action: audit.ActionLogin,
			Result: audit.ResultFailure,
			Email:  email,
			Error:  dashauth.KindOf(err).String(),
		})
		return nil, err
	}
	rec := e.signedIn(ctx, res.User, res.Token, "")
	if err := edge.WriteToken(ctx, res.Token); err != nil {
		logctx.Or(ctx, e.logger).WarnContext(ctx, "edge_write_failed", slog.String("err", err.Error()))
	}
	return rec, nil
}

// CompleteFederated finishes a provider sign-in: the identity is exchanged
// for a backend token through the social-login handshake. It returns the
// callback route to redirect to and, on success, the new record.
//
// The edge store is not written here. The token reaches the client only
// through the callback URL, and the callback route stores it.
func (e *Engine) CompleteFederated(ctx context.Context, id *dashauth.Identity, providerErr error) (string, *Record) {
	log := logctx.Or(ctx, e.logger)

	if providerErr != nil || id == nil {
		if providerErr != nil {
			log.WarnContext(ctx, "federated_provider_failed", slog.String("err", providerErr.Error()))
		}
		e.federatedFailed(ctx, id, dashauth.CallbackErrProvider)
		return dashauth.CallbackErrorURL(dashauth.CallbackErrProvider), nil
	}

	token, err := e.backend.SocialLogin(ctx, *id)
	if err != nil {
		log.WarnContext(ctx, "social_login_failed",
			slog.String("provider", id.Provider),
			slog.String("kind", dashauth.KindOf(err).String()),
		)
		e.federatedFailed(ctx, id, dashauth.CallbackErrBackendAuthFailed)
		return dashauth.CallbackErrorURL(dashauth.CallbackErrBackendAuthFailed), nil
	}

	u, err := e.backend.Me(dashauth.WithToken(ctx, token))
	if err != nil {
		log.WarnContext(ctx, "social_login_me_failed", slog.String("kind", dashauth.KindOf(err).String()))
		e.federatedFailed(ctx, id, dashauth.CallbackErrBackendAuthFailed)
		return dashauth.CallbackErrorURL(dashauth.CallbackErrBackendAuthFailed), nil
	}

	rec := e.signedIn(ctx, u, token, id.Provider)
	return dashauth.CallbackTokenURL(token), rec
}

func (e *Engine) federatedFailed(ctx context.Context, id *dashauth.Identity, code string) {
	ev := audit.Event{Action: audit.ActionFederatedLogin, Result: audit.ResultFailure, Error: code}
	if id != nil {
		ev.Provider, ev.Email = id.Provider, id.Email
	}
	e.audit.Emit(ctx, ev)
}

func (e *Engine) signedIn(ctx context.Context, u *dashauth.User, token, provider string) *Record {
	r := &Record{Token: token, TokenExpiry: e.now().Add(e.window).UnixMilli()}
	r.setUser(u)

	e.transition(ctx, StateUnset, StateActive, "sign_in", token)
	action := audit.ActionLogin
	if provider != "" {
		action = audit.ActionFederatedLogin
	}
	e.audit.Emit(ctx, audit.Event{
		Action:           action,
		Result:           audit.ResultSuccess,
		UserID:           u.ID,
		Email:            u.Email,
		Provider:         provider,
		TokenFingerprint: dashauth.Fingerprint(token),
	})
	return r
}

// SignOut revokes the record's token best-effort, clears the edge store
// and returns an unset record.
func (e *Engine) SignOut(ctx context.Context, rec *Record, edge dashauth.EdgeStore) *Record {
	log := logctx.Or(ctx, e.logger)
	if rec != nil && rec.Token != "" {
		if err := e.backend.Logout(dashauth.WithToken(ctx, rec.Token)); err != nil {
			log.WarnContext(ctx, "backend_logout_failed", slog.String("err", err.Error()))
		}
	}
	if err := edge.ClearToken(ctx); err != nil {
		log.WarnContext(ctx, "edge_clear_failed", slog.String("err", err.Error()))
	}

	from := rec.State()
	e.transition(ctx, from, StateUnset, "sign_out", "")
	ev := audit.Event{Action: audit.ActionLogout, Result: audit.ResultSuccess}
	if rec != nil {
		ev.UserID, ev.TokenFingerprint = rec.UserID, dashauth.Fingerprint(rec.Token)
	}
	e.audit.Emit(ctx, ev)
	return &Record{}
}
