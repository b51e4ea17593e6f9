package dashauth

import "context"

// ScriptStore is the client-side key/value store only page code can reach
// (localStorage in a browser, a profile file for a CLI).
// Implementations: tokenstore.MemoryScript, tokenstore.FileScript, redisstore.Script.
type ScriptStore interface {
	// Get returns the value for key. A missing key is ("", false, nil).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// EdgeReader is read access to the token cookie the edge sees on every
// navigation. It is the only capability the route guard is given.
type EdgeReader interface {
	// ReadToken returns the token and whether a non-empty one is present.
	ReadToken(ctx context.Context) (string, bool)
}

// EdgeStore is read/write access to the token cookie.
// Implementations: tokenstore.JarEdge, tokenstore.FileEdge, tokenstore.HTTPEdge.
type EdgeStore interface {
	EdgeReader

	// WriteToken sets the cookie with the store's fixed lifetime.
	WriteToken(ctx context.Context, token string) error

	// ClearToken removes the token, leaving an empty tombstone so the edge
	// can tell an explicit clear apart from natural cookie expiry.
	ClearToken(ctx context.Context) error

	// Cleared reports whether the token was removed by ClearToken.
	Cleared(ctx context.Context) bool
}

// InvalidationReason says why a token was dropped without a logout.
type InvalidationReason uint8

const (
	// ReasonUnauthorized: a backend request was answered with 401.
	ReasonUnauthorized InvalidationReason = iota + 1

	// ReasonSessionExpired: the session could not be refreshed.
	ReasonSessionExpired
)

func (r InvalidationReason) String() string {
	switch r {
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonSessionExpired:
		return "session_expired"
	}
	return "unknown"
}

// TokenStore keeps the bearer token in both the script store and the edge
// store, reconciling them on every read.
// Implementations: tokenstore.Store.
type TokenStore interface {
	// Read returns the reconciled token, repairing a stale store first.
	Read(ctx context.Context) (string, bool)

	// Write sets the token in both stores.
	Write(ctx context.Context, token string) error

	// Clear removes the token from both stores.
	Clear(ctx context.Context) error

	// Invalidate clears both stores and notifies OnInvalidate hooks.
	Invalidate(ctx context.Context, reason InvalidationReason)

	// OnInvalidate registers fn and returns a function removing it.
	OnInvalidate(fn func(context.Context, InvalidationReason)) (remove func())
}

//go:generate mockgen -source=interfaces.go -destination=mock/backend.go -package=mock Backend

// Backend is the dashboard's REST API as seen by this core.
// Calls needing a bearer take it from the context (WithToken) or from
// whatever the implementation attaches.
// Implementations: apiclient.Client, fake.Backend.
type Backend interface {
	// Login exchanges credentials for a user and token.
	Login(ctx context.Context, email, password string) (*AuthResult, error)

	// Register creates an account and signs it in.
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)

	// Me returns the user owning the current token.
	Me(ctx context.Context) (*User, error)

	// RefreshToken exchanges the current token for a new one.
	RefreshToken(ctx context.Context) (string, error)

	// SocialLogin exchanges a federated identity for a token.
	SocialLogin(ctx context.Context, id Identity) (string, error)

	// Logout revokes the current token.
	Logout(ctx context.Context) error
}
