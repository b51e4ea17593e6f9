// Command fakeapi serves the in-memory dashboard backend over HTTP for
// local development against the dashboard server and dashctl.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/fake"
)

func main() {
	var (
		addr     string
		tokenTTL time.Duration
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	flag.DurationVar(&tokenTTL, "token-ttl", dashauth.DefaultTokenWindow, "lifetime of issued tokens")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(log)

	b := fake.NewBackend(
		fake.WithTokenTTL(tokenTTL),
		fake.WithUser("u-business", "Demo Business", "business@example.com", "business-pass", dashauth.RoleBusiness),
		fake.WithUser("u-promoter", "Demo Promoter", "promoter@example.com", "promoter-pass", dashauth.RolePromoter),
		fake.WithDeactivatedUser("u-inactive", "Inactive", "inactive@example.com", "inactive-pass", dashauth.RolePromoter),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           fake.NewHandler(b),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("fakeapi_listen_start", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("fakeapi_serve_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("fakeapi_stopped")
}
