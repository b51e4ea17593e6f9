package session_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/fake"
	"github.com/chimerakang/dashauth/mock"
	"github.com/chimerakang/dashauth/session"
	"github.com/chimerakang/dashauth/tokenstore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFake() *fake.Backend {
	return fake.NewBackend(
		fake.WithUser("u1", "Alice", "alice@example.com", "correct-horse", dashauth.RoleBusiness),
		fake.WithToken("T0", "u1"),
	)
}

func activeRecord(token string, expiry time.Time) *session.Record {
	return &session.Record{
		UserID:      "u1",
		Name:        "Alice",
		Email:       "alice@example.com",
		Role:        dashauth.RoleBusiness,
		Token:       token,
		TokenExpiry: expiry.UnixMilli(),
	}
}

func TestEvaluate_UnsetWithoutEdge(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := session.NewEngine(mock.NewMockBackend(ctrl))

	rec := e.Evaluate(context.Background(), nil, tokenstore.NewMemoryEdge())
	if rec.State() != session.StateUnset {
		t.Errorf("State = %v, want unset", rec.State())
	}
}

func TestEvaluate_SecondTabAdoptsToken(t *testing.T) {
	b := newFake()
	clk := &clock{now: t0}
	e := session.NewEngine(b, session.WithClock(clk.Now))
	ctx := context.Background()
	edge := tokenstore.NewMemoryEdge() // the browser's cookie, shared by both tabs

	tab1, err := e.SignInCredentials(ctx, "alice@example.com", "correct-horse", edge)
	if err != nil {
		t.Fatalf("SignInCredentials() error: %v", err)
	}
	t1 := tab1.Token

	tab2 := e.Evaluate(ctx, nil, edge)
	if tab2.State() != session.StateActive {
		t.Fatalf("tab2 State = %v, want active", tab2.State())
	}
	if tab2.Token != t1 {
		t.Errorf("tab2 Token = %q, want %q", tab2.Token, t1)
	}
	if tab2.UserID != "u1" {
		t.Errorf("tab2 UserID = %q, want u1", tab2.UserID)
	}
	if n := b.Calls("Login"); n != 1 {
		t.Errorf("Login calls = %d, want 1", n)
	}
	if want := t0.Add(dashauth.DefaultTokenWindow); !tab2.TokenExpiresAt().Equal(want) {
		t.Errorf("TokenExpiresAt = %v, want %v", tab2.TokenExpiresAt(), want)
	}
}

func TestEvaluate_PassiveSyncReplacesStaleToken(t *testing.T) {
	b := newFake()
	clk := &clock{now: t0}
	e := session.NewEngine(b, session.WithClock(clk.Now))
	ctx := context.Background()

	fresh, err := b.Issue("u1")
	if err != nil {
		t.Fatal(err)
	}
	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, fresh)

	rec := e.Evaluate(ctx, activeRecord("T0", t0.Add(time.Hour)), edge)
	if rec.Token != fresh || rec.State() != session.StateActive {
		t.Errorf("record = %+v, want active with adopted token", rec)
	}
}

func TestEvaluate_FutureExpiryNoRefresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl) // RefreshToken must not be called
	clk := &clock{now: t0}
	e := session.NewEngine(backend, session.WithClock(clk.Now))
	ctx := context.Background()

	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "T0")
	in := activeRecord("T0", t0.Add(time.Minute))

	rec := e.Evaluate(ctx, in, edge)
	if rec.State() != session.StateActive || rec.Token != "T0" {
		t.Errorf("record = %+v", rec)
	}
}

func TestEvaluate_ExpiredTokenFailingRefresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	backend.EXPECT().RefreshToken(gomock.Any()).Return("", dashauth.NewError(dashauth.KindUnauthorized, "nope"))

	clk := &clock{now: t0}
	e := session.NewEngine(backend, session.WithClock(clk.Now))
	ctx := context.Background()
	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "T0")

	rec := e.Evaluate(ctx, activeRecord("T0", t0.Add(-time.Second)), edge)
	if rec.State() != session.StateExpired {
		t.Fatalf("State = %v, want expired", rec.State())
	}
	if !rec.View().Expired {
		t.Error("View().Expired = false")
	}
	if _, ok := edge.ReadToken(ctx); ok {
		t.Error("edge token not cleared")
	}
	if !edge.Cleared(ctx) {
		t.Error("edge not marked cleared")
	}
}

func TestEvaluate_RefreshSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	backend.EXPECT().RefreshToken(gomock.Any()).DoAndReturn(func(ctx context.Context) (string, error) {
		if got := dashauth.TokenFromContext(ctx); got != "T0" {
			t.Errorf("refresh bearer = %q, want T0", got)
		}
		return "T1", nil
	})

	clk := &clock{now: t0}
	e := session.NewEngine(backend, session.WithClock(clk.Now), session.WithTokenWindow(time.Hour))
	ctx := context.Background()
	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "T0")

	rec := e.Evaluate(ctx, activeRecord("T0", t0.Add(-time.Second)), edge)
	if rec.State() != session.StateActive || rec.Token != "T1" {
		t.Fatalf("record = %+v, want active T1", rec)
	}
	if !rec.TokenExpiresAt().Equal(t0.Add(time.Hour)) {
		t.Errorf("TokenExpiresAt = %v", rec.TokenExpiresAt())
	}
	if tok, _ := edge.ReadToken(ctx); tok != "T1" {
		t.Errorf("edge token = %q, want T1", tok)
	}
}

func TestEvaluate_RefreshOutlivesCancelledRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	backend.EXPECT().RefreshToken(gomock.Any()).DoAndReturn(func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "T1", nil
	})

	clk := &clock{now: t0}
	e := session.NewEngine(backend, session.WithClock(clk.Now), session.WithTokenWindow(time.Hour))
	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(context.Background(), "T0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := e.Evaluate(ctx, activeRecord("T0", t0.Add(-time.Second)), edge)
	if rec.State() != session.StateActive || rec.Token != "T1" {
		t.Fatalf("record = %+v, want active T1", rec)
	}
}

func TestEvaluate_ExpiredIsSticky(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl) // no calls expected
	e := session.NewEngine(backend, session.WithClock((&clock{now: t0}).Now))
	ctx := context.Background()

	in := activeRecord("T0", t0.Add(-time.Hour))
	in.Expired = true

	edge := tokenstore.NewMemoryEdge()
	for i := 0; i < 3; i++ {
		if rec := e.Evaluate(ctx, in, edge); rec.State() != session.StateExpired {
			t.Fatalf("evaluation %d: State = %v, want expired", i, rec.State())
		}
	}
	_ = edge.WriteToken(ctx, "T0")
	if rec := e.Evaluate(ctx, in, edge); rec.State() != session.StateExpired {
		t.Errorf("same token: State = %v, want expired", rec.State())
	}
}

func TestEvaluate_ExpiredRecoversOnNewSignIn(t *testing.T) {
	b := newFake()
	e := session.NewEngine(b, session.WithClock((&clock{now: t0}).Now))
	ctx := context.Background()

	in := activeRecord("old", t0.Add(-time.Hour))
	in.Expired = true
	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "T0")

	rec := e.Evaluate(ctx, in, edge)
	if rec.State() != session.StateActive || rec.Token != "T0" {
		t.Errorf("record = %+v, want active T0", rec)
	}
}

func TestEvaluate_EdgeClearedExpires(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := session.NewEngine(mock.NewMockBackend(ctrl), session.WithClock((&clock{now: t0}).Now))
	ctx := context.Background()

	edge := tokenstore.NewMemoryEdge()
	_ = edge.ClearToken(ctx)

	rec := e.Evaluate(ctx, activeRecord("T0", t0.Add(time.Hour)), edge)
	if rec.State() != session.StateExpired {
		t.Errorf("State = %v, want expired", rec.State())
	}
}

func TestEvaluate_NaturalCookieExpiryKeepsSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := session.NewEngine(mock.NewMockBackend(ctrl), session.WithClock((&clock{now: t0}).Now))
	ctx := context.Background()

	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "T0")
	edge.Expire()

	rec := e.Evaluate(ctx, activeRecord("T0", t0.Add(time.Hour)), edge)
	if rec.State() != session.StateActive {
		t.Errorf("State = %v, want active", rec.State())
	}
}

func TestEvaluate_ClearDuringRefreshWins(t *testing.T) {
	ctx := context.Background()
	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "T0")

	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	backend.EXPECT().RefreshToken(gomock.Any()).DoAndReturn(func(context.Context) (string, error) {
		// a 401 elsewhere clears the stores while the refresh is in flight
		_ = edge.ClearToken(ctx)
		return "T1", nil
	})

	e := session.NewEngine(backend, session.WithClock((&clock{now: t0}).Now))
	rec := e.Evaluate(ctx, activeRecord("T0", t0.Add(-time.Second)), edge)
	if rec.State() != session.StateExpired {
		t.Errorf("State = %v, want expired", rec.State())
	}
	if tok, ok := edge.ReadToken(ctx); ok {
		t.Errorf("edge token = %q, want cleared", tok)
	}
}

func TestEvaluate_AdoptRejectedClearsEdge(t *testing.T) {
	b := newFake()
	e := session.NewEngine(b)
	ctx := context.Background()

	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "forged")

	rec := e.Evaluate(ctx, nil, edge)
	if rec.State() != session.StateUnset {
		t.Errorf("State = %v, want unset", rec.State())
	}
	if _, ok := edge.ReadToken(ctx); ok {
		t.Error("rejected edge token not cleared")
	}
}

func TestEvaluate_AdoptTransportErrorKeepsRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	backend.EXPECT().Me(gomock.Any()).Return(nil, errors.New("connection refused"))

	e := session.NewEngine(backend, session.WithClock((&clock{now: t0}).Now))
	ctx := context.Background()
	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "T9")

	in := activeRecord("T0", t0.Add(time.Hour))
	rec := e.Evaluate(ctx, in, edge)
	if rec.State() != session.StateActive || rec.Token != "T0" {
		t.Errorf("record = %+v, want unchanged", rec)
	}
	if tok, _ := edge.ReadToken(ctx); tok != "T9" {
		t.Errorf("edge token = %q, want T9 kept", tok)
	}
}

func TestSignInCredentials_Deactivated(t *testing.T) {
	b := fake.NewBackend(fake.WithDeactivatedUser("u2", "Bob", "bob@example.com", "battery-staple", dashauth.RolePromoter))
	e := session.NewEngine(b)
	edge := tokenstore.NewMemoryEdge()

	_, err := e.SignInCredentials(context.Background(), "bob@example.com", "battery-staple", edge)
	if dashauth.KindOf(err) != dashauth.KindAccountDeactivated {
		t.Errorf("error = %v, want deactivated", err)
	}
	if _, ok := edge.ReadToken(context.Background()); ok {
		t.Error("edge written on failed sign-in")
	}
}

func TestCompleteFederated(t *testing.T) {
	ctx := context.Background()
	id := &dashauth.Identity{Provider: "google", ProviderAccountID: "g-1", Email: "alice@example.com", EmailVerified: true}

	t.Run("success", func(t *testing.T) {
		e := session.NewEngine(newFake())

		redirect, rec := e.CompleteFederated(ctx, id, nil)
		if rec == nil || rec.State() != session.StateActive {
			t.Fatalf("record = %+v, want active", rec)
		}
		u, err := url.Parse(redirect)
		if err != nil {
			t.Fatal(err)
		}
		if u.Path != dashauth.CallbackPath || u.Query().Get("token") != rec.Token {
			t.Errorf("redirect = %q", redirect)
		}
	})

	t.Run("backend rejects", func(t *testing.T) {
		b := newFake()
		b.SetFailure("SocialLogin", dashauth.NewError(dashauth.KindInternal, "down"))
		e := session.NewEngine(b)

		redirect, rec := e.CompleteFederated(ctx, id, nil)
		if rec != nil {
			t.Errorf("record = %+v, want nil", rec)
		}
		if redirect != dashauth.CallbackErrorURL(dashauth.CallbackErrBackendAuthFailed) {
			t.Errorf("redirect = %q", redirect)
		}
	})

	t.Run("provider failed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		e := session.NewEngine(mock.NewMockBackend(ctrl))

		redirect, rec := e.CompleteFederated(ctx, nil, errors.New("access_denied"))
		if rec != nil {
			t.Errorf("record = %+v, want nil", rec)
		}
		if redirect != dashauth.CallbackErrorURL(dashauth.CallbackErrProvider) {
			t.Errorf("redirect = %q", redirect)
		}
	})
}

func TestSignOut(t *testing.T) {
	b := newFake()
	e := session.NewEngine(b)
	ctx := context.Background()
	edge := tokenstore.NewMemoryEdge()

	rec, err := e.SignInCredentials(ctx, "alice@example.com", "correct-horse", edge)
	if err != nil {
		t.Fatal(err)
	}
	out := e.SignOut(ctx, rec, edge)
	if out.State() != session.StateUnset {
		t.Errorf("State = %v, want unset", out.State())
	}
	if !edge.Cleared(ctx) {
		t.Error("edge not cleared")
	}
	if _, err := b.Lookup(rec.Token); err == nil {
		t.Error("token not revoked")
	}
}
