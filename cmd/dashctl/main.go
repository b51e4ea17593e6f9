// Command dashctl is a terminal client of the dashboard backend. It keeps
// its token in a profile the way a browser keeps it in local storage and a
// cookie, so the token store reconciles the two on every run.
//
// Usage:
//
//	dashctl [-config path] <command> [flags]
//
// Commands: login, register, whoami, logout, status, callback.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: dashctl [-config path] [-v] <command> [flags]

commands:
  login     -email E -password P     sign in with credentials
  register  -name N -email E -password P -role business|promoter
  whoami                             show the signed-in user
  logout                             sign out and forget the token
  status                             show the local auth state
  callback  URL                      finish a federated sign-in from the callback URL
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dashctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "path to config file")
	verbose := fs.Bool("v", false, "log debug output to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, *configPath, log, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "dashctl: %v\n", err)
		return 1
	}
	defer app.Close()

	if err := app.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		app.report(stderr, err)
		return 1
	}
	return 0
}
