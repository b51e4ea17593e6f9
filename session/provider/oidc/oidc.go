// Package oidc is a federated sign-in provider for any OpenID Connect
// issuer (Keycloak, Auth0, Okta, ...).
package oidc

import (
	"context"
	"errors"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/session/provider"
)

// Config describes one OIDC client registration.
type Config struct {
	// Name is the provider identifier used in routes, e.g. "keycloak".
	Name string

	// Issuer is discovered via /.well-known/openid-configuration.
	Issuer string

	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthURL overrides the discovered authorization endpoint, for issuers
	// reachable under a different public address than the server uses.
	AuthURL string

	// Scopes default to openid, email and profile.
	Scopes []string
}

// Provider implements provider.OAuthProvider.
type Provider struct {
	name        string
	oauthConfig *oauth2.Config
	verifier    *gooidc.IDTokenVerifier
}

var _ provider.OAuthProvider = (*Provider)(nil)

// New discovers the issuer and builds the provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Name == "" || cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("dashauth/oidc: config missing required fields")
	}

	op, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("dashauth/oidc: discover %s: %w", cfg.Issuer, err)
	}

	ep := op.Endpoint()
	if cfg.AuthURL != "" {
		ep.AuthURL = cfg.AuthURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	}

	return &Provider{
		name: cfg.Name,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     ep,
			Scopes:       scopes,
		},
		verifier: op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (p *Provider) Name() string { return p.name }

// AuthCodeURL builds the authorization URL with S256 PKCE parameters.
func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

type idClaims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// ExchangeCode redeems the code and verifies the returned id_token.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*dashauth.Identity, error) {
	token, err := p.oauthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("dashauth/oidc: %s token exchange: %w", p.name, err)
	}

	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("dashauth/oidc: %s returned no id_token", p.name)
	}

	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("dashauth/oidc: %s id_token verification: %w", p.name, err)
	}

	var c idClaims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("dashauth/oidc: %s id_token claims: %w", p.name, err)
	}
	if c.Subject == "" || c.Email == "" {
		return nil, fmt.Errorf("dashauth/oidc: %s id_token missing sub or email", p.name)
	}

	name := c.Name
	if name == "" {
		name = c.PreferredUsername
	}
	return &dashauth.Identity{
		Provider:          p.name,
		ProviderAccountID: c.Subject,
		Email:             c.Email,
		Name:              name,
		EmailVerified:     c.EmailVerified,
	}, nil
}
