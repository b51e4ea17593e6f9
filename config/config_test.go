package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

// chdir changes the working directory for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

const sampleYAML = `
env: "prod"
http:
  host: "127.0.0.1"
  port: "8443"
  public_url: "https://dash.example.com"
  shutdown_timeout: "5s"
backend:
  base_url: "https://api.example.com"
  timeout: "3s"
session:
  secret: "0123456789abcdef0123456789abcdef"
  strategy: "redis"
  cookie_name: "sid"
  secure: true
  token_window: "12h"
  max_age: "168h"
  redis_url: "redis://localhost:6379/0"
edge:
  cookie_name: "tok"
  max_age: "12h"
  secure: true
routes:
  public: ["/", "/signin"]
  bypass: ["/assets/"]
  login: "/signin"
  landing: "/home"
oauth:
  google:
    client_id: "gid"
    client_secret: "gsecret"
  oidc:
    name: "keycloak"
    issuer: "https://sso.example.com/realms/dash"
    client_id: "kid"
    client_secret: "ksecret"
    scopes: ["openid", "email"]
metrics:
  disabled: true
client:
  script: "file"
  dir: "/tmp/dashctl"
  profile: "work"
`

const minimalYAML = `
env: "dev"
`

const brokenYAML = `
env: [unclosed
`

func TestHTTPConfig_Addr(t *testing.T) {
	t.Parallel()
	cfg := HTTPConfig{Host: "0.0.0.0", Port: "3000"}
	require.Equal(t, "0.0.0.0:3000", cfg.Addr())
}

func TestLoad_WithExplicitPath_OK(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", sampleYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, EnvProd, cfg.Env)
	require.Equal(t, "127.0.0.1:8443", cfg.HTTP.Addr())
	require.Equal(t, "https://dash.example.com", cfg.HTTP.PublicURL)
	require.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)

	require.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	require.Equal(t, 3*time.Second, cfg.Backend.Timeout)

	require.Equal(t, StrategyRedis, cfg.Session.Strategy)
	require.Equal(t, "sid", cfg.Session.CookieName)
	require.True(t, cfg.Session.Secure)
	require.Equal(t, 12*time.Hour, cfg.Session.TokenWindow)
	require.Equal(t, 7*24*time.Hour, cfg.Session.MaxAge)

	require.Equal(t, "tok", cfg.Edge.CookieName)
	require.True(t, cfg.Edge.Secure)

	require.Equal(t, []string{"/", "/signin"}, cfg.Routes.Public)
	require.Equal(t, []string{"/assets/"}, cfg.Routes.Bypass)
	require.Equal(t, "/signin", cfg.Routes.Login)
	require.Equal(t, "/home", cfg.Routes.Landing)

	require.Equal(t, "gid", cfg.OAuth.Google.ClientID)
	require.Equal(t, "keycloak", cfg.OAuth.OIDC.Name)
	require.Equal(t, []string{"openid", "email"}, cfg.OAuth.OIDC.Scopes)

	require.True(t, cfg.Metrics.Disabled)
	require.Equal(t, "work", cfg.Client.Profile)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", minimalYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, EnvDev, cfg.Env)
	require.Equal(t, "0.0.0.0:3000", cfg.HTTP.Addr())
	require.Equal(t, StrategyCookie, cfg.Session.Strategy)
	require.Equal(t, "dashauth_session", cfg.Session.CookieName)
	require.Equal(t, 24*time.Hour, cfg.Session.TokenWindow)
	require.Equal(t, 30*24*time.Hour, cfg.Session.MaxAge)
	require.Equal(t, "auth_token", cfg.Edge.CookieName)
	require.Equal(t, []string{"/", "/login", "/register"}, cfg.Routes.Public)
	require.Equal(t, []string{"/auth/callback"}, cfg.Routes.Passthrough)
	require.Equal(t, "/dashboard", cfg.Routes.Landing)
	require.Zero(t, cfg.Backend.Timeout)
	require.False(t, cfg.Metrics.Disabled)
	require.Equal(t, ScriptFile, cfg.Client.Script)
	require.Equal(t, "auth_token", cfg.Client.TokenKey)
}

func TestLoad_WithExplicitPath_BrokenYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "broken.yaml", brokenYAML)

	_, err := Load(cfgPath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_WithExplicitPath_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "stat failed")
}

func TestLoad_WithCONFIG_PATH_OK(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "from_env_path.yaml", minimalYAML)
	t.Setenv("CONFIG_PATH", cfgPath)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, EnvDev, cfg.Env)
}

func TestLoad_WithLocalYAML_OK(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, ".", "local.yaml", sampleYAML)
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Env)
	require.Equal(t, "8443", cfg.HTTP.Port)
}

func TestLoad_Priority_ExplicitWinsOverEnvAndLocal(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	writeFile(t, ".", "local.yaml", `env: "local"`)
	t.Setenv("CONFIG_PATH", writeFile(t, dir, "from_env.yaml", minimalYAML))
	explicit := writeFile(t, dir, "explicit.yaml", sampleYAML)

	cfg, err := Load(explicit)
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Env)
}

func TestLoad_EnvOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", minimalYAML)
	t.Setenv("BACKEND_BASE_URL", "http://backend:9000")
	t.Setenv("ROUTES_PUBLIC", "/,/about")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "http://backend:9000", cfg.Backend.BaseURL)
	require.Equal(t, []string{"/", "/about"}, cfg.Routes.Public)
}

func TestLoad_EnvOnly(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ENV", "prod")
	t.Setenv("HTTP_PORT", "9999")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Env)
	require.Equal(t, "9999", cfg.HTTP.Port)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown env", `env: "stage"`, `env "stage"`},
		{"redis without url", "session:\n  strategy: redis", "session.redis_url"},
		{"unknown strategy", "session:\n  strategy: memcached", "session.strategy"},
		{"redis script without url", "client:\n  script: redis", "client.redis_url"},
		{"oidc without issuer", "oauth:\n  oidc:\n    client_id: x", "oauth.oidc.issuer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, "c.yaml", tt.yaml)
			_, err := Load(p)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	require.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	})
}

func TestClientConfig(t *testing.T) {
	cfg := &Config{
		Backend: BackendConfig{BaseURL: "http://api"},
		Edge:    EdgeConfig{CookieName: "tok"},
		Routes:  RoutesConfig{Landing: "/home"},
		Client:  ClientConfig{TokenKey: "dash_token"},
	}
	cc := cfg.ClientConfig()
	require.Equal(t, "http://api", cc.BaseURL)
	require.Equal(t, "tok", cc.CookieName)
	require.Equal(t, "dash_token", cc.TokenKey)
	require.Equal(t, "/home", cc.LandingPath)
}
