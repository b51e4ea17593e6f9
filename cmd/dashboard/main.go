// Command dashboard runs the dashboard web server: the route guard in front
// of every page and the session endpoints under /api/auth.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/chimerakang/dashauth/apiclient"
	"github.com/chimerakang/dashauth/audit"
	"github.com/chimerakang/dashauth/config"
	"github.com/chimerakang/dashauth/guard"
	"github.com/chimerakang/dashauth/metrics"
	"github.com/chimerakang/dashauth/server"
	"github.com/chimerakang/dashauth/session"
	"github.com/chimerakang/dashauth/session/provider"
	"github.com/chimerakang/dashauth/session/provider/google"
	"github.com/chimerakang/dashauth/session/provider/oidc"
	"github.com/chimerakang/dashauth/tokenstore"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting dashboard", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("dashboard_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New(!cfg.Metrics.Disabled)
	var gatherer prometheus.Gatherer
	if !cfg.Metrics.Disabled {
		gatherer = prometheus.DefaultGatherer
	}

	auditLog := audit.New(0, audit.WithStdoutHandler())
	defer auditLog.Close()

	backend, err := apiclient.New(cfg.Backend.BaseURL,
		apiclient.WithLogger(log),
		apiclient.WithMetrics(m),
		apiclient.WithTimeout(cfg.Backend.Timeout),
	)
	if err != nil {
		return err
	}

	codec, err := session.NewCodec([]byte(cfg.Session.Secret), session.WithMaxAge(cfg.Session.MaxAge))
	if err != nil {
		return err
	}
	store, closeStore, err := newSessionStore(ctx, cfg, codec)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := session.NewEngine(backend,
		session.WithTokenWindow(cfg.Session.TokenWindow),
		session.WithLogger(log),
		session.WithMetrics(m),
		session.WithAudit(auditLog),
	)

	providers, err := newProviders(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info("providers_configured", slog.Any("providers", providers.Names()))

	edge := tokenstore.CookieOptionsFor(cfg.ClientConfig())
	edge.MaxAge = cfg.Edge.MaxAge
	edge.Secure = cfg.Edge.Secure
	g := guard.New(
		guard.WithPublicPaths(cfg.Routes.Public...),
		guard.WithPassthroughPaths(cfg.Routes.Passthrough...),
		guard.WithBypassPrefixes(cfg.Routes.Bypass...),
		guard.WithLoginPath(cfg.Routes.Login),
		guard.WithLandingPath(cfg.Routes.Landing),
		guard.WithCookie(edge),
		guard.WithMetrics(m),
	)

	srv := server.New(engine, store,
		server.WithProviders(providers),
		server.WithGuard(g),
		server.WithEdgeCookie(edge),
		server.WithLogger(log),
		server.WithMetrics(m, gatherer),
		server.WithSecureCookies(cfg.Session.Secure),
	)

	addr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	log.Info("http_listen_start", slog.String("addr", addr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}
	return nil
}

func newSessionStore(ctx context.Context, cfg *config.Config, codec *session.Codec) (session.Store, func(), error) {
	opts := session.CookieOptions{Name: cfg.Session.CookieName, Secure: cfg.Session.Secure}
	if cfg.Session.Strategy != config.StrategyRedis {
		return session.NewCookieStore(codec, opts), func() {}, nil
	}

	ropt, err := redis.ParseURL(cfg.Session.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse session redis url: %w", err)
	}
	rdb := redis.NewClient(ropt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping session redis: %w", err)
	}
	return session.NewRedisStore(rdb, cfg.Session.MaxAge, opts), func() { _ = rdb.Close() }, nil
}

func newProviders(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	callback := strings.TrimRight(cfg.HTTP.PublicURL, "/") + "/api/auth/callback/"
	var list []provider.OAuthProvider

	if g := cfg.OAuth.Google; g.ClientID != "" {
		p, err := google.New(ctx, g.ClientID, g.ClientSecret, callback+google.Name)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if o := cfg.OAuth.OIDC; o.ClientID != "" {
		p, err := oidc.New(ctx, oidc.Config{
			Name:         o.Name,
			Issuer:       o.Issuer,
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  callback + o.Name,
			Scopes:       o.Scopes,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return provider.NewRegistry(list...), nil
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
