package dashauth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Default names and lifetimes shared by the client and edge tiers.
const (
	// DefaultTokenKey is the script store key holding the bearer token.
	DefaultTokenKey = "auth_token"

	// DefaultCookieName is the edge cookie carrying the bearer token.
	DefaultCookieName = "auth_token"

	// DefaultTokenWindow is the fixed policy lifetime of a backend token.
	// Tokens are opaque, so expiry is tracked locally from issuance.
	DefaultTokenWindow = 24 * time.Hour

	// DefaultLandingPath is where authenticated users are sent.
	DefaultLandingPath = "/dashboard"

	// DefaultLoginPath is where unauthenticated users are sent.
	DefaultLoginPath = "/login"
)

// Role is the kind of account a user holds on the dashboard.
type Role string

const (
	RoleBusiness Role = "business"
	RolePromoter Role = "promoter"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known account kinds.
func (r Role) Valid() bool {
	switch r {
	case RoleBusiness, RolePromoter, RoleAdmin:
		return true
	}
	return false
}

// Registrable reports whether r can be chosen at self-registration.
func (r Role) Registrable() bool {
	return r == RoleBusiness || r == RolePromoter
}

// ParseRole converts a wire value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("dashauth: unknown role %q", s)
	}
	return r, nil
}

// User is the account returned by the backend.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Active bool   `json:"isActive"`
}

// AuthResult is returned by login and registration.
type AuthResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// MinPasswordLength is enforced locally before a registration is sent.
const MinPasswordLength = 8

// Validate checks the input locally. It returns a *Error of KindValidation.
func (in RegisterInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return NewError(KindValidation, "name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return NewError(KindValidation, "a valid email is required")
	}
	if len(in.Password) < MinPasswordLength {
		return NewError(KindValidation, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if !in.Role.Registrable() {
		return NewError(KindValidation, fmt.Sprintf("role %q cannot be registered", in.Role))
	}
	return nil
}

// Identity is a federated identity asserted by an external provider.
// It holds facts only; linking it to an account is the backend's job.
type Identity struct {
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
	Email             string `json:"email"`
	Name              string `json:"name,omitempty"`
	EmailVerified     bool   `json:"emailVerified"`
}

// Fingerprint returns a short, non-reversible tag for a token, safe to log.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
