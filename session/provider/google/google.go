// Package google is the Google sign-in provider.
package google

import (
	"context"
	"errors"

	"github.com/chimerakang/dashauth/session/provider/oidc"
)

const (
	// Name identifies the provider in routes and identities.
	Name = "google"

	// Issuer is Google's OIDC issuer.
	Issuer = "https://accounts.google.com"
)

// New builds the Google provider. It performs OIDC discovery against
// accounts.google.com.
func New(ctx context.Context, clientID, clientSecret, redirectURL string) (*oidc.Provider, error) {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("dashauth/google: client id, secret and redirect url are required")
	}
	return oidc.New(ctx, oidc.Config{
		Name:         Name,
		Issuer:       Issuer,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
	})
}
