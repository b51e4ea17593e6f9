// Package config loads configuration for the dashauth binaries.
//
// Sources, highest priority first:
//  1. an explicit --config path;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. environment only.
//
// A file is always overlaid with the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/chimerakang/dashauth"
)

// Environments selecting the log handler.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Session strategies.
const (
	StrategyCookie = "cookie"
	StrategyRedis  = "redis"
)

// Script store kinds for the terminal client.
const (
	ScriptFile  = "file"
	ScriptRedis = "redis"
)

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP    HTTPConfig    `yaml:"http"`
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Edge    EdgeConfig    `yaml:"edge"`
	Routes  RoutesConfig  `yaml:"routes"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Metrics MetricsConfig `yaml:"metrics"`
	Client  ClientConfig  `yaml:"client"`
}

// HTTPConfig is the dashboard web server.
type HTTPConfig struct {
	Host            string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"3000"`
	PublicURL       string        `yaml:"public_url" env:"HTTP_PUBLIC_URL" env-default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// BackendConfig is the dashboard REST API.
type BackendConfig struct {
	BaseURL string `yaml:"base_url" env:"BACKEND_BASE_URL" env-default:"http://localhost:8080"`
	// Timeout bounds each backend call. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT"`
}

// SessionConfig is the session engine.
type SessionConfig struct {
	Secret      string        `yaml:"secret" env:"SESSION_SECRET"`
	Strategy    string        `yaml:"strategy" env:"SESSION_STRATEGY" env-default:"cookie"`
	CookieName  string        `yaml:"cookie_name" env:"SESSION_COOKIE_NAME" env-default:"dashauth_session"`
	Secure      bool          `yaml:"secure" env:"SESSION_SECURE"`
	TokenWindow time.Duration `yaml:"token_window" env:"SESSION_TOKEN_WINDOW" env-default:"24h"`
	MaxAge      time.Duration `yaml:"max_age" env:"SESSION_MAX_AGE" env-default:"720h"`
	RedisURL    string        `yaml:"redis_url" env:"SESSION_REDIS_URL"`
}

// EdgeConfig is the token cookie the route guard reads.
type EdgeConfig struct {
	CookieName string        `yaml:"cookie_name" env:"EDGE_COOKIE_NAME" env-default:"auth_token"`
	MaxAge     time.Duration `yaml:"max_age" env:"EDGE_MAX_AGE" env-default:"24h"`
	Secure     bool          `yaml:"secure" env:"EDGE_SECURE"`
}

// RoutesConfig is the route guard.
type RoutesConfig struct {
	Public      []string `yaml:"public" env:"ROUTES_PUBLIC" env-separator:"," env-default:"/,/login,/register"`
	Passthrough []string `yaml:"passthrough" env:"ROUTES_PASSTHROUGH" env-separator:"," env-default:"/auth/callback"`
	Bypass      []string `yaml:"bypass" env:"ROUTES_BYPASS" env-separator:"," env-default:"/api/,/static/,/healthz,/metrics"`
	Login       string   `yaml:"login" env:"ROUTES_LOGIN" env-default:"/login"`
	Landing     string   `yaml:"landing" env:"ROUTES_LANDING" env-default:"/dashboard"`
}

// OAuthConfig is the federated sign-in providers. A provider without a
// client id is disabled.
type OAuthConfig struct {
	Google GoogleConfig `yaml:"google"`
	OIDC   OIDCConfig   `yaml:"oidc"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id" env:"OAUTH_GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"OAUTH_GOOGLE_CLIENT_SECRET"`
}

type OIDCConfig struct {
	Name         string   `yaml:"name" env:"OAUTH_OIDC_NAME" env-default:"oidc"`
	Issuer       string   `yaml:"issuer" env:"OAUTH_OIDC_ISSUER"`
	ClientID     string   `yaml:"client_id" env:"OAUTH_OIDC_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"OAUTH_OIDC_CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes" env:"OAUTH_OIDC_SCOPES" env-separator:","`
}

// MetricsConfig toggles Prometheus collection and /metrics.
// Collection is on unless disabled.
type MetricsConfig struct {
	Disabled bool `yaml:"disabled" env:"METRICS_DISABLED"`
}

// ClientConfig is the terminal client profile.
type ClientConfig struct {
	Script   string `yaml:"script" env:"CLIENT_SCRIPT" env-default:"file"`
	Dir      string `yaml:"dir" env:"CLIENT_DIR"`
	RedisURL string `yaml:"redis_url" env:"CLIENT_REDIS_URL"`
	Profile  string `yaml:"profile" env:"CLIENT_PROFILE" env-default:"default"`
	TokenKey string `yaml:"token_key" env:"CLIENT_TOKEN_KEY" env-default:"auth_token"`
}

// ClientConfig returns the root client configuration.
func (c *Config) ClientConfig() dashauth.Config {
	return dashauth.Config{
		BaseURL:     c.Backend.BaseURL,
		TokenKey:    c.Client.TokenKey,
		CookieName:  c.Edge.CookieName,
		LandingPath: c.Routes.Landing,
	}
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		errs = append(errs, fmt.Errorf("env %q: want local, dev or prod", c.Env))
	}
	switch c.Session.Strategy {
	case StrategyCookie:
	case StrategyRedis:
		if c.Session.RedisURL == "" {
			errs = append(errs, errors.New("session.redis_url is required for the redis strategy"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.strategy %q: want cookie or redis", c.Session.Strategy))
	}
	switch c.Client.Script {
	case ScriptFile:
	case ScriptRedis:
		if c.Client.RedisURL == "" {
			errs = append(errs, errors.New("client.redis_url is required for the redis script store"))
		}
	default:
		errs = append(errs, fmt.Errorf("client.script %q: want file or redis", c.Client.Script))
	}
	if c.Session.TokenWindow <= 0 {
		errs = append(errs, errors.New("session.token_window must be positive"))
	}
	if c.OAuth.OIDC.ClientID != "" && c.OAuth.OIDC.Issuer == "" {
		errs = append(errs, errors.New("oauth.oidc.issuer is required with a client id"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("dashauth/config: invalid config: %w", err)
	}
	return nil
}

// MustLoad panics if the configuration cannot be loaded.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("dashauth/config: config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("dashauth/config: failed to read config: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("dashauth/config: failed to overlay env: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	if path != "" {
		return readFile(path)
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return readFile(envPath)
	}
	if _, err := os.Stat("local.yaml"); err == nil {
		return readFile("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("dashauth/config: config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
