// Package session is the edge-tier session engine.
//
// A Record is the signed server-side view of one browser's sign-in: the
// user, the backend token and the time the token falls due for refresh.
// The Engine re-evaluates a Record on every access, adopting tokens written
// to the edge store by other tabs, refreshing tokens past their window and
// expiring sessions whose refresh failed.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chimerakang/dashauth"
)

// State is the lifecycle state of a Record.
type State string

const (
	StateUnset      State = "unset"
	StateActive     State = "active"
	StateRefreshing State = "refreshing"
	StateExpired    State = "expired"
)

// Record is the session record. It is carried as JWT claims.
type Record struct {
	UserID string        `json:"uid,omitempty"`
	Name   string        `json:"name,omitempty"`
	Email  string        `json:"email,omitempty"`
	Role   dashauth.Role `json:"role,omitempty"`
	Token  string        `json:"tok,omitempty"`

	// TokenExpiry is when Token falls due for refresh, in unix milliseconds.
	TokenExpiry int64 `json:"tex,omitempty"`

	// Expired is sticky until a new sign-in.
	Expired bool `json:"exd,omitempty"`

	jwt.RegisteredClaims
}

// State derives the lifecycle state. StateRefreshing is never stored; it
// only appears in transitions.
func (r *Record) State() State {
	switch {
	case r == nil:
		return StateUnset
	case r.Expired:
		return StateExpired
	case r.Token == "":
		return StateUnset
	}
	return StateActive
}

// TokenExpiresAt returns TokenExpiry as a time.
func (r *Record) TokenExpiresAt() time.Time {
	return time.UnixMilli(r.TokenExpiry)
}

// User returns the user the record belongs to, or nil when unset.
func (r *Record) User() *dashauth.User {
	if r == nil || r.UserID == "" {
		return nil
	}
	return &dashauth.User{ID: r.UserID, Name: r.Name, Email: r.Email, Role: r.Role, Active: true}
}

// View is the record as served to the page by the session endpoint.
type View struct {
	State          State          `json:"state"`
	User           *dashauth.User `json:"user,omitempty"`
	Token          string         `json:"token,omitempty"`
	TokenExpiresAt *time.Time     `json:"tokenExpiresAt,omitempty"`
	Expired        bool           `json:"expired"`
}

// View returns the page-facing view of the record.
func (r *Record) View() View {
	v := View{State: r.State(), User: r.User()}
	if v.State == StateActive {
		v.Token = r.Token
		t := r.TokenExpiresAt().UTC()
		v.TokenExpiresAt = &t
	}
	v.Expired = v.State == StateExpired
	return v
}

func (r *Record) setUser(u *dashauth.User) {
	r.UserID, r.Name, r.Email, r.Role = u.ID, u.Name, u.Email, u.Role
}
