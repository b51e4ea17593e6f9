// Package provider defines the federated sign-in providers the session
// engine can hand off to.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"

	"golang.org/x/oauth2"

	"github.com/chimerakang/dashauth"
)

// OAuthProvider is an external identity provider. Implementations return
// identity facts only; linking the identity to an account is the backend's
// job in the social-login handshake.
type OAuthProvider interface {
	// Name returns the provider identifier, e.g. "google".
	Name() string

	// AuthCodeURL returns the authorization URL. State and PKCE challenge
	// are generated by the caller.
	AuthCodeURL(state, codeChallenge string) string

	// ExchangeCode exchanges the authorization code and returns the
	// verified identity.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*dashauth.Identity, error)
}

// Registry looks providers up by name.
type Registry struct {
	providers map[string]OAuthProvider
}

// NewRegistry registers the given providers. Later providers replace
// earlier ones with the same name.
func NewRegistry(list ...OAuthProvider) *Registry {
	m := make(map[string]OAuthProvider, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (OAuthProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("dashauth/provider: unknown provider %q", name)
	}
	return p, nil
}

// Names lists the registered providers, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NewState returns a random OAuth state value.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("dashauth/provider: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewPKCE returns a PKCE verifier and its S256 challenge.
func NewPKCE() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, Challenge(verifier)
}

// Challenge computes the S256 challenge for verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
