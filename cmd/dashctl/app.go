package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/apiclient"
	"github.com/chimerakang/dashauth/authstate"
	"github.com/chimerakang/dashauth/config"
	"github.com/chimerakang/dashauth/tokenstore"
	"github.com/chimerakang/dashauth/tokenstore/redisstore"
)

// passwordEnv is read when -password is not given.
const passwordEnv = "DASHCTL_PASSWORD"

type app struct {
	client  *dashauth.Client
	machine *authstate.Machine
	out     io.Writer
}

func newApp(ctx context.Context, configPath string, log *slog.Logger, out io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	cc := cfg.ClientConfig()
	dir, err := profileDir(cfg.Client)
	if err != nil {
		return nil, err
	}

	var script dashauth.ScriptStore
	var closers []dashauth.Option
	switch cfg.Client.Script {
	case config.ScriptRedis:
		rs, err := redisstore.Open(ctx, cfg.Client.RedisURL, cfg.Client.Profile)
		if err != nil {
			return nil, err
		}
		script = rs
		closers = append(closers, dashauth.WithCloser(rs))
	default:
		script = tokenstore.NewFileScript(filepath.Join(dir, "script.json"))
	}
	edgeOpts := tokenstore.CookieOptionsFor(cc)
	edgeOpts.MaxAge = cfg.Edge.MaxAge
	edge := tokenstore.NewFileEdge(filepath.Join(dir, "cookie.json"), edgeOpts)
	tokens := tokenstore.New(script, edge, tokenstore.WithClientConfig(cc), tokenstore.WithLogger(log))

	api, err := apiclient.New(cfg.Backend.BaseURL,
		apiclient.WithTokenSource(tokens),
		apiclient.WithLogger(log),
		apiclient.WithTimeout(cfg.Backend.Timeout),
		apiclient.WithUserAgent("dashctl"),
	)
	if err != nil {
		return nil, err
	}

	opts := append([]dashauth.Option{
		dashauth.WithLogger(log),
		dashauth.WithTokenStore(tokens),
		dashauth.WithBackend(api),
	}, closers...)
	client, err := dashauth.NewClient(cc, opts...)
	if err != nil {
		return nil, err
	}

	m := authstate.FromClient(client, authstate.WithLogger(log))
	m.Hydrate(ctx)
	return &app{client: client, machine: m, out: out}, nil
}

func profileDir(c config.ClientConfig) (string, error) {
	base := c.Dir
	if base == "" {
		ucd, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locate config dir: %w", err)
		}
		base = filepath.Join(ucd, "dashctl")
	}
	dir := filepath.Join(base, c.Profile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	return dir, nil
}

func (a *app) Close() error {
	return errors.Join(a.machine.Close(), a.client.Close())
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "register":
		return a.register(ctx, args)
	case "whoami":
		return a.whoami(ctx)
	case "logout":
		return a.logout(ctx)
	case "status":
		return a.status()
	case "callback":
		return a.callback(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password (default $"+passwordEnv+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv(passwordEnv)
	}

	if err := a.machine.Login(ctx, *email, *password); err != nil {
		return err
	}
	a.printUser("signed in as", a.machine.State().User)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password (default $"+passwordEnv+")")
	role := fs.String("role", string(dashauth.RolePromoter), "business or promoter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv(passwordEnv)
	}

	in := dashauth.RegisterInput{Name: *name, Email: *email, Password: *password, Role: dashauth.Role(*role)}
	if err := a.machine.Register(ctx, in); err != nil {
		return err
	}
	a.printUser("registered", a.machine.State().User)
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	u, err := a.machine.GetCurrentUser(ctx)
	if err != nil {
		return err
	}
	a.printUser("", u)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.machine.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func (a *app) status() error {
	st := a.machine.State()
	fmt.Fprintf(a.out, "authenticated: %t\n", st.IsAuthenticated)
	if st.Token != "" {
		fmt.Fprintf(a.out, "token:         %s\n", dashauth.Fingerprint(st.Token))
	}
	if st.User != nil {
		fmt.Fprintf(a.out, "user:          %s <%s> (%s)\n", st.User.Name, st.User.Email, st.User.Role)
	}
	if st.Err != nil {
		fmt.Fprintf(a.out, "error:         %s\n", st.ErrorMessage())
	}
	return nil
}

func (a *app) callback(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("callback takes the callback URL")
	}
	u, err := url.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parse callback url: %w", err)
	}
	next, err := a.machine.HandleCallback(ctx, u.Query())
	if err != nil {
		return err
	}
	a.printUser("signed in as", a.machine.State().User)
	fmt.Fprintf(a.out, "continue at %s\n", next)
	return nil
}

func (a *app) printUser(prefix string, u *dashauth.User) {
	if u == nil {
		return
	}
	if prefix != "" {
		fmt.Fprintf(a.out, "%s ", prefix)
	}
	fmt.Fprintf(a.out, "%s <%s> (%s)\n", u.Name, u.Email, u.Role)
}

// report prints err with the recovery the user can take.
func (a *app) report(w io.Writer, err error) {
	var e *dashauth.Error
	if !errors.As(err, &e) {
		fmt.Fprintf(w, "dashctl: %v\n", err)
		return
	}
	fmt.Fprintf(w, "dashctl: %s\n", e.DisplayMessage())
	switch e.Kind.Affordance() {
	case dashauth.AffordanceReauthenticate:
		fmt.Fprintln(w, "hint: run `dashctl login` to sign in again")
	case dashauth.AffordanceContactSupport:
		fmt.Fprintln(w, "hint: contact support to reactivate your account")
	case dashauth.AffordanceRetry:
		fmt.Fprintln(w, "hint: try again in a moment")
	}
}
