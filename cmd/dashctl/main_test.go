package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/fake"
)

type env struct {
	backend *fake.Backend
	config  string
	dir     string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	b := fake.NewBackend(
		fake.WithUser("u1", "Alice", "alice@example.com", "correct-horse", dashauth.RoleBusiness),
		fake.WithDeactivatedUser("u2", "Bob", "bob@example.com", "bob-password", dashauth.RolePromoter),
	)
	srv := httptest.NewServer(fake.NewHandler(b))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf("env: local\nbackend:\n  base_url: %q\nclient:\n  dir: %q\n  profile: test\n", srv.URL, dir)
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", "")
	return &env{backend: b, config: p, dir: dir}
}

func (e *env) run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(append([]string{"-config", e.config}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestLoginWhoamiLogout(t *testing.T) {
	e := newEnv(t)

	code, out, errOut := e.run("login", "-email", "alice@example.com", "-password", "correct-horse")
	if code != 0 {
		t.Fatalf("login exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "signed in as Alice <alice@example.com> (business)") {
		t.Errorf("login output = %q", out)
	}

	// a fresh process hydrates from the profile
	code, out, _ = e.run("status")
	if code != 0 || !strings.Contains(out, "authenticated: true") {
		t.Errorf("status = %d %q", code, out)
	}
	code, out, _ = e.run("whoami")
	if code != 0 || !strings.Contains(out, "Alice <alice@example.com>") {
		t.Errorf("whoami = %d %q", code, out)
	}

	code, out, _ = e.run("logout")
	if code != 0 || !strings.Contains(out, "signed out") {
		t.Errorf("logout = %d %q", code, out)
	}
	code, out, _ = e.run("status")
	if code != 0 || !strings.Contains(out, "authenticated: false") {
		t.Errorf("status after logout = %d %q", code, out)
	}
}

func TestWhoami_NotSignedIn(t *testing.T) {
	e := newEnv(t)
	code, _, errOut := e.run("whoami")
	if code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	if !strings.Contains(errOut, "dashctl login") {
		t.Errorf("stderr = %q, want re-authenticate hint", errOut)
	}
	if n := e.backend.Calls("Me"); n != 0 {
		t.Errorf("Me calls = %d, want 0", n)
	}
}

func TestLogin_Deactivated(t *testing.T) {
	e := newEnv(t)
	code, _, errOut := e.run("login", "-email", "bob@example.com", "-password", "bob-password")
	if code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	if !strings.Contains(errOut, "contact support") {
		t.Errorf("stderr = %q, want contact support hint", errOut)
	}
}

func TestLogin_PasswordFromEnv(t *testing.T) {
	e := newEnv(t)
	t.Setenv(passwordEnv, "correct-horse")
	if code, _, errOut := e.run("login", "-email", "alice@example.com"); code != 0 {
		t.Fatalf("login exit %d: %s", code, errOut)
	}
}

func TestRegister(t *testing.T) {
	e := newEnv(t)

	code, out, errOut := e.run("register", "-name", "Carol", "-email", "carol@example.com", "-password", "long-enough", "-role", "promoter")
	if code != 0 {
		t.Fatalf("register exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "registered Carol <carol@example.com> (promoter)") {
		t.Errorf("register output = %q", out)
	}

	calls := e.backend.Calls("Register")
	code, _, _ = e.run("register", "-name", "Dan", "-email", "dan@example.com", "-password", "long-enough", "-role", "admin")
	if code != 1 {
		t.Errorf("admin register exit = %d, want 1", code)
	}
	if n := e.backend.Calls("Register"); n != calls {
		t.Errorf("Register calls = %d, want %d (validated locally)", n, calls)
	}
}

func TestRevokedTokenClearsProfile(t *testing.T) {
	e := newEnv(t)
	if code, _, errOut := e.run("login", "-email", "alice@example.com", "-password", "correct-horse"); code != 0 {
		t.Fatalf("login exit %d: %s", code, errOut)
	}

	data, err := os.ReadFile(filepath.Join(e.dir, "test", "script.json"))
	if err != nil {
		t.Fatal(err)
	}
	var script map[string]string
	if err := json.Unmarshal(data, &script); err != nil {
		t.Fatal(err)
	}
	e.backend.Revoke(script[dashauth.DefaultTokenKey])

	if code, _, _ := e.run("whoami"); code != 1 {
		t.Errorf("whoami exit = %d, want 1", code)
	}
	if _, out, _ := e.run("status"); !strings.Contains(out, "authenticated: false") {
		t.Errorf("status after 401 = %q", out)
	}
}

func TestCallback(t *testing.T) {
	e := newEnv(t)
	tok, err := e.backend.Issue("u1")
	if err != nil {
		t.Fatal(err)
	}

	code, out, errOut := e.run("callback", "http://localhost:3000"+dashauth.CallbackTokenURL(tok))
	if code != 0 {
		t.Fatalf("callback exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "continue at /dashboard") {
		t.Errorf("callback output = %q", out)
	}

	code, _, errOut = e.run("callback", "http://localhost:3000"+dashauth.CallbackErrorURL(dashauth.CallbackErrBackendAuthFailed))
	if code != 1 || !strings.Contains(errOut, "could not finish signing you in") {
		t.Errorf("callback error = %d %q", code, errOut)
	}
}

func TestUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "usage: dashctl") {
		t.Errorf("stderr = %q", errOut.String())
	}

	e := newEnv(t)
	if code, _, errOut := e.run("frobnicate"); code != 1 || !strings.Contains(errOut, "unknown command") {
		t.Errorf("unknown command = %d %q", code, errOut)
	}
}
