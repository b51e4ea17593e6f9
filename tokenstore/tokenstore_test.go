package tokenstore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/tokenstore"
)

func quiet() tokenstore.Option {
	return tokenstore.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newStore() (*tokenstore.Store, *tokenstore.MemoryScript, *tokenstore.MemoryEdge) {
	script := tokenstore.NewMemoryScript()
	edge := tokenstore.NewMemoryEdge()
	return tokenstore.New(script, edge, quiet()), script, edge
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name         string
		script, edge string
		wantToken    string
		wantRepair   tokenstore.Repair
	}{
		{"both empty", "", "", "", tokenstore.RepairNone},
		{"both equal", "A", "A", "A", tokenstore.RepairNone},
		{"edge missing", "A", "", "A", tokenstore.RepairEdge},
		{"script missing", "", "B", "B", tokenstore.RepairScript},
		{"diverged, edge wins", "A", "B", "B", tokenstore.RepairScript},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenstore.Reconcile(tt.script, tt.edge)
			if got.Token != tt.wantToken || got.Repair != tt.wantRepair {
				t.Errorf("Reconcile(%q, %q) = %+v, want {%q %v}", tt.script, tt.edge, got, tt.wantToken, tt.wantRepair)
			}
		})
	}
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	s, script, edge := newStore()

	if err := s.Write(ctx, "T"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	got, ok := s.Read(ctx)
	if !ok || got != "T" {
		t.Fatalf("Read() = %q, %v; want T, true", got, ok)
	}
	if v, _, _ := script.Get(ctx, dashauth.DefaultTokenKey); v != "T" {
		t.Errorf("script store = %q, want T", v)
	}
	if v, _ := edge.ReadToken(ctx); v != "T" {
		t.Errorf("edge store = %q, want T", v)
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore()
	for i := 0; i < 3; i++ {
		if err := s.Write(ctx, "T"); err != nil {
			t.Fatalf("Write() #%d error: %v", i, err)
		}
	}
	if got, _ := s.Read(ctx); got != "T" {
		t.Errorf("Read() = %q, want T", got)
	}
}

func TestWriteRejectsEmpty(t *testing.T) {
	s, _, _ := newStore()
	if err := s.Write(context.Background(), ""); !errors.Is(err, tokenstore.ErrEmptyToken) {
		t.Errorf("Write(\"\") = %v, want ErrEmptyToken", err)
	}
}

func TestClearThenRead(t *testing.T) {
	ctx := context.Background()
	s, _, edge := newStore()
	_ = s.Write(ctx, "T")

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if got, ok := s.Read(ctx); ok || got != "" {
		t.Errorf("Read() after Clear = %q, %v; want empty", got, ok)
	}
	if !edge.Cleared(ctx) {
		t.Error("edge store should carry a clear tombstone")
	}
}

func TestReadRepairsEdge(t *testing.T) {
	ctx := context.Background()
	s, script, edge := newStore()
	_ = script.Set(ctx, dashauth.DefaultTokenKey, "A")

	got, ok := s.Read(ctx)
	if !ok || got != "A" {
		t.Fatalf("Read() = %q, %v; want A, true", got, ok)
	}
	if v, _ := edge.ReadToken(ctx); v != "A" {
		t.Errorf("edge store after repair = %q, want A", v)
	}
}

func TestReadRepairsScript(t *testing.T) {
	ctx := context.Background()
	s, script, edge := newStore()
	_ = script.Set(ctx, dashauth.DefaultTokenKey, "OLD")
	_ = edge.WriteToken(ctx, "NEW")

	got, _ := s.Read(ctx)
	if got != "NEW" {
		t.Fatalf("Read() = %q, want NEW", got)
	}
	if v, _, _ := script.Get(ctx, dashauth.DefaultTokenKey); v != "NEW" {
		t.Errorf("script store after repair = %q, want NEW", v)
	}
}

// failingScript fails every operation.
type failingScript struct{}

func (failingScript) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("storage disabled")
}
func (failingScript) Set(context.Context, string, string) error { return errors.New("quota exceeded") }
func (failingScript) Delete(context.Context, string) error    { return errors.New("storage disabled") }

func TestPartialWriteFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	edge := tokenstore.NewMemoryEdge()
	s := tokenstore.New(failingScript{}, edge, quiet())

	if err := s.Write(ctx, "T"); err != nil {
		t.Fatalf("Write() with one failing store = %v, want nil", err)
	}
	if got, ok := s.Read(ctx); !ok || got != "T" {
		t.Errorf("Read() = %q, %v; want T from edge", got, ok)
	}
	if err := s.Clear(ctx); err != nil {
		t.Errorf("Clear() with one failing store = %v, want nil", err)
	}
}

// failingEdge fails every write.
type failingEdge struct{ tokenstore.MemoryEdge }

func (*failingEdge) WriteToken(context.Context, string) error { return errors.New("cookies blocked") }
func (*failingEdge) ClearToken(context.Context) error         { return errors.New("cookies blocked") }

func TestWriteFailsWhenBothStoresFail(t *testing.T) {
	s := tokenstore.New(failingScript{}, &failingEdge{}, quiet())
	if err := s.Write(context.Background(), "T"); err == nil {
		t.Fatal("Write() expected error when both stores fail")
	}
	if err := s.Clear(context.Background()); err == nil {
		t.Fatal("Clear() expected error when both stores fail")
	}
}

func TestInvalidateClearsAndNotifies(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore()
	_ = s.Write(ctx, "T")

	var reasons []dashauth.InvalidationReason
	remove := s.OnInvalidate(func(_ context.Context, r dashauth.InvalidationReason) {
		// the store is already empty when hooks run
		if _, ok := s.Read(ctx); ok {
			t.Error("hook ran before the store was cleared")
		}
		reasons = append(reasons, r)
	})

	s.Invalidate(ctx, dashauth.ReasonUnauthorized)
	if len(reasons) != 1 || reasons[0] != dashauth.ReasonUnauthorized {
		t.Fatalf("hook reasons = %v, want [unauthorized]", reasons)
	}

	remove()
	s.Invalidate(ctx, dashauth.ReasonSessionExpired)
	if len(reasons) != 1 {
		t.Errorf("removed hook still called: %v", reasons)
	}
}

func TestSharedStoresAcrossTabs(t *testing.T) {
	ctx := context.Background()
	script := tokenstore.NewMemoryScript()
	edge := tokenstore.NewMemoryEdge()
	tab1 := tokenstore.New(script, edge, quiet())
	tab2 := tokenstore.New(script, edge, quiet())

	_ = tab1.Write(ctx, "T1")
	if got, _ := tab2.Read(ctx); got != "T1" {
		t.Errorf("tab2 Read() = %q, want T1", got)
	}
}

func TestFileStores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := tokenstore.NewFileScript(filepath.Join(dir, "profile", "store.json"))
	edge := tokenstore.NewFileEdge(filepath.Join(dir, "profile", "cookie.json"), tokenstore.CookieOptions{})
	s := tokenstore.New(script, edge, quiet())

	if got, ok := s.Read(ctx); ok {
		t.Fatalf("fresh profile Read() = %q, want empty", got)
	}
	if err := s.Write(ctx, "T"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	// a second process opening the same profile sees the token
	reopened := tokenstore.New(
		tokenstore.NewFileScript(filepath.Join(dir, "profile", "store.json")),
		tokenstore.NewFileEdge(filepath.Join(dir, "profile", "cookie.json"), tokenstore.CookieOptions{}),
		quiet(),
	)
	if got, _ := reopened.Read(ctx); got != "T" {
		t.Errorf("reopened Read() = %q, want T", got)
	}

	_ = s.Clear(ctx)
	if !edge.Cleared(ctx) {
		t.Error("file edge should report cleared")
	}
	if _, ok, _ := script.Get(ctx, dashauth.DefaultTokenKey); ok {
		t.Error("script key should be deleted")
	}
}

func TestJarEdge(t *testing.T) {
	ctx := context.Background()
	jar, _ := cookiejar.New(nil)
	edge, err := tokenstore.NewJarEdge(jar, "http://dashboard.local/api", tokenstore.CookieOptions{})
	if err != nil {
		t.Fatalf("NewJarEdge() error: %v", err)
	}

	if _, ok := edge.ReadToken(ctx); ok {
		t.Fatal("empty jar should have no token")
	}
	_ = edge.WriteToken(ctx, "T")
	if got, ok := edge.ReadToken(ctx); !ok || got != "T" {
		t.Fatalf("ReadToken() = %q, %v; want T", got, ok)
	}

	// the cookie is sent with requests to other paths of the same origin
	u, _ := http.NewRequest(http.MethodGet, "http://dashboard.local/products", nil)
	found := false
	for _, c := range jar.Cookies(u.URL) {
		if c.Name == dashauth.DefaultCookieName && c.Value == "T" {
			found = true
		}
	}
	if !found {
		t.Error("cookie should be scoped to path /")
	}

	_ = edge.ClearToken(ctx)
	if _, ok := edge.ReadToken(ctx); ok {
		t.Error("ReadToken() after ClearToken should be empty")
	}
	if !edge.Cleared(ctx) {
		t.Error("Cleared() should be true after ClearToken")
	}
}

func TestJarEdgeRejectsRelativeURL(t *testing.T) {
	jar, _ := cookiejar.New(nil)
	if _, err := tokenstore.NewJarEdge(jar, "/api", tokenstore.CookieOptions{}); err == nil {
		t.Error("NewJarEdge() expected error for relative url")
	}
}

func TestHTTPEdge(t *testing.T) {
	ctx := context.Background()
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: dashauth.DefaultCookieName, Value: "OLD"})
	w := httptest.NewRecorder()
	edge := tokenstore.NewHTTPEdge(w, r, tokenstore.CookieOptions{})

	if got, _ := edge.ReadToken(ctx); got != "OLD" {
		t.Fatalf("ReadToken() = %q, want OLD", got)
	}
	_ = edge.WriteToken(ctx, "NEW")
	if got, _ := edge.ReadToken(ctx); got != "NEW" {
		t.Fatalf("ReadToken() after write = %q, want NEW", got)
	}

	set := w.Header().Get("Set-Cookie")
	for _, want := range []string{"auth_token=NEW", "Path=/", "Max-Age=86400", "SameSite=Strict"} {
		if !strings.Contains(set, want) {
			t.Errorf("Set-Cookie %q missing %q", set, want)
		}
	}
}

func TestHTTPEdgeTombstone(t *testing.T) {
	ctx := context.Background()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: dashauth.DefaultCookieName, Value: ""})
	edge := tokenstore.NewHTTPEdge(httptest.NewRecorder(), r, tokenstore.CookieOptions{})

	if _, ok := edge.ReadToken(ctx); ok {
		t.Error("tombstone should read as no token")
	}
	if !edge.Cleared(ctx) {
		t.Error("tombstone should read as cleared")
	}

	missing := tokenstore.NewHTTPEdge(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), tokenstore.CookieOptions{})
	if missing.Cleared(ctx) {
		t.Error("absent cookie is not a clear")
	}
}

func TestRequestEdge(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "custom", Value: "T"})

	got, ok := tokenstore.RequestEdge(r, tokenstore.CookieOptions{Name: "custom"}).ReadToken(context.Background())
	if !ok || got != "T" {
		t.Errorf("ReadToken() = %q, %v; want T", got, ok)
	}
	if _, ok := tokenstore.RequestEdge(r, tokenstore.CookieOptions{}).ReadToken(context.Background()); ok {
		t.Error("default cookie name should not match")
	}
}

func TestMemoryEdgeExpire(t *testing.T) {
	ctx := context.Background()
	edge := tokenstore.NewMemoryEdge()
	_ = edge.WriteToken(ctx, "T")
	edge.Expire()
	if _, ok := edge.ReadToken(ctx); ok {
		t.Error("expired cookie should be absent")
	}
	if edge.Cleared(ctx) {
		t.Error("natural expiry is not a clear")
	}
}

func TestClientConfig(t *testing.T) {
	ctx := context.Background()
	cfg := dashauth.Config{TokenKey: "dash_token", CookieName: "dash_cookie"}
	script := tokenstore.NewMemoryScript()
	s := tokenstore.New(script, tokenstore.NewMemoryEdge(), tokenstore.WithClientConfig(cfg), quiet())

	if err := s.Write(ctx, "T"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if v, ok, _ := script.Get(ctx, "dash_token"); !ok || v != "T" {
		t.Errorf("script[dash_token] = %q, %v", v, ok)
	}
	if _, ok, _ := script.Get(ctx, dashauth.DefaultTokenKey); ok {
		t.Error("token written under the default key")
	}

	if got := tokenstore.CookieOptionsFor(cfg).CookieName(); got != "dash_cookie" {
		t.Errorf("CookieName() = %q, want dash_cookie", got)
	}
	if got := tokenstore.CookieOptionsFor(dashauth.Config{}).CookieName(); got != dashauth.DefaultCookieName {
		t.Errorf("CookieName() = %q, want default", got)
	}
}
