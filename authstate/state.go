// Package authstate is the dashboard's global auth state container.
//
// State changes only through Reduce, a pure function over a closed set of
// events. A Machine owns one State, runs the four auth operations against
// the backend and the token store, and publishes every new State to its
// subscribers.
package authstate

import "github.com/chimerakang/dashauth"

// Op names the operation an event belongs to.
type Op uint8

const (
	OpHydrate Op = iota
	OpLogin
	OpRegister
	OpCurrentUser
	OpLogout
)

func (o Op) String() string {
	switch o {
	case OpHydrate:
		return "hydrate"
	case OpLogin:
		return "login"
	case OpRegister:
		return "register"
	case OpCurrentUser:
		return "current_user"
	case OpLogout:
		return "logout"
	}
	return "unknown"
}

// State is the auth state observed by the UI.
type State struct {
	User            *dashauth.User
	Token           string
	IsAuthenticated bool
	IsLoading       bool
	Err             *dashauth.Error
}

// ErrorMessage is the text to show for Err, or "".
func (s State) ErrorMessage() string {
	return s.Err.DisplayMessage()
}

// Affordance is the recovery to offer for Err.
func (s State) Affordance() dashauth.Affordance {
	if s.Err == nil {
		return dashauth.AffordanceNone
	}
	return s.Err.Kind.Affordance()
}

// Event is one of Pending, Fulfilled, Rejected, MissingToken, Hydrated,
// Invalidated or LoggedOut.
type Event interface{ event() }

// Pending starts an operation.
type Pending struct{ Op Op }

// Fulfilled completes an operation. Token is empty when the operation did
// not produce one.
type Fulfilled struct {
	Op    Op
	User  *dashauth.User
	Token string
}

// Rejected fails an operation.
type Rejected struct {
	Op  Op
	Err *dashauth.Error
}

// MissingToken ends an operation that found no token to send. It is not an
// authentication failure.
type MissingToken struct{ Op Op }

// Hydrated seeds the state from the token store.
type Hydrated struct{ Token string }

// Invalidated reports that the token store dropped the token.
type Invalidated struct{ Reason dashauth.InvalidationReason }

// LoggedOut resets everything.
type LoggedOut struct{}

func (Pending) event()      {}
func (Fulfilled) event()    {}
func (Rejected) event()     {}
func (MissingToken) event() {}
func (Hydrated) event()     {}
func (Invalidated) event()  {}
func (LoggedOut) event()    {}

// Reduce returns the state after e.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case Pending:
		s.IsLoading = true
		s.Err = nil

	case Fulfilled:
		s.IsLoading = false
		s.Err = nil
		s.User = e.User
		s.IsAuthenticated = true
		if e.Token != "" {
			s.Token = e.Token
		}

	case Rejected:
		s.IsLoading = false
		s.Err = e.Err
		if e.Op == OpCurrentUser && rejectsSession(e.Err) {
			s.User, s.Token, s.IsAuthenticated = nil, "", false
		}

	case MissingToken:
		s.IsLoading = false

	case Hydrated:
		s.Token = e.Token
		s.IsAuthenticated = e.Token != ""

	case Invalidated:
		if s.IsAuthenticated {
			s.Err = dashauth.ErrSessionExpired
		}
		s.User, s.Token, s.IsAuthenticated = nil, "", false

	case LoggedOut:
		s = State{}
	}
	return s
}

// rejectsSession reports whether err proves the current token is no good.
// Transport and server failures do not.
func rejectsSession(err *dashauth.Error) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case dashauth.KindUnauthorized,
		dashauth.KindInvalidCredentials,
		dashauth.KindAccountDeactivated,
		dashauth.KindSessionExpired:
		return true
	}
	return false
}
