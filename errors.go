package dashauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of failure classes the dashboard distinguishes.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindInvalidCredentials
	KindAccountDeactivated
	KindMissingToken
	KindUnauthorized
	KindSessionExpired
	KindValidation
	KindConflict
	KindTransport
)

var kindCodes = [...]string{
	KindInternal:           "internal",
	KindInvalidCredentials: "invalid_credentials",
	KindAccountDeactivated: "account_deactivated",
	KindMissingToken:       "missing_token",
	KindUnauthorized:       "unauthorized",
	KindSessionExpired:     "session_expired",
	KindValidation:         "validation_failed",
	KindConflict:           "conflict",
	KindTransport:          "transport",
}

// String returns the wire code of the kind.
func (k ErrorKind) String() string {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindFromCode maps a backend error code onto a kind.
func KindFromCode(code string) (ErrorKind, bool) {
	for k, c := range kindCodes {
		if c == code {
			return ErrorKind(k), true
		}
	}
	return KindInternal, false
}

// KindFromStatus is the fallback used when a response carries no known code.
func KindFromStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusConflict:
		return KindConflict
	}
	return KindInternal
}

// StatusOf is the HTTP status a server answers with for a kind.
func StatusOf(k ErrorKind) int {
	switch k {
	case KindInvalidCredentials, KindUnauthorized, KindMissingToken, KindSessionExpired:
		return http.StatusUnauthorized
	case KindAccountDeactivated:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Affordance is what the UI offers the user after a failure.
type Affordance uint8

const (
	AffordanceNone Affordance = iota
	AffordanceRetry
	AffordanceReauthenticate
	AffordanceContactSupport
)

func (a Affordance) String() string {
	switch a {
	case AffordanceRetry:
		return "retry"
	case AffordanceReauthenticate:
		return "reauthenticate"
	case AffordanceContactSupport:
		return "contact_support"
	}
	return "none"
}

// Affordance returns the recovery offered for errors of this kind.
func (k ErrorKind) Affordance() Affordance {
	switch k {
	case KindAccountDeactivated:
		return AffordanceContactSupport
	case KindSessionExpired, KindUnauthorized, KindMissingToken:
		return AffordanceReauthenticate
	case KindTransport, KindInternal:
		return AffordanceRetry
	}
	return AffordanceNone
}

// UserMessage is the text shown for errors of this kind when the backend
// supplied none.
func (k ErrorKind) UserMessage() string {
	switch k {
	case KindInvalidCredentials:
		return "Invalid email or password."
	case KindAccountDeactivated:
		return "Your account has been deactivated. Please contact support."
	case KindMissingToken:
		return "Please sign in to continue."
	case KindUnauthorized:
		return "You are not signed in."
	case KindSessionExpired:
		return "Your session has expired. Please sign in again."
	case KindValidation:
		return "Please check the form and try again."
	case KindConflict:
		return "An account with this email already exists."
	case KindTransport:
		return "Could not reach the server. Please try again."
	}
	return "Something went wrong. Please try again."
}

// Error is a classified failure. Backend failures carry the response code
// and status; local failures carry only a kind and message.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Status  int
	Err     error
}

// NewError creates a local error of the given kind.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: msg}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.UserMessage()
	}
	if e.Err != nil {
		return fmt.Sprintf("dashauth: %s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("dashauth: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrMissingToken)
// holds for copies of the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// DisplayMessage returns the backend message or the kind's default text.
func (e *Error) DisplayMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.UserMessage()
}

var (
	// ErrMissingToken is returned when an authenticated call is attempted
	// without any token available. It is synthesised locally.
	ErrMissingToken = NewError(KindMissingToken, "no auth token available")

	// ErrSessionExpired marks a session that could not be refreshed.
	ErrSessionExpired = NewError(KindSessionExpired, "session expired")
)

// KindOf classifies err. Errors that are not *Error are transport failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// AsError returns err as a *Error, wrapping unclassified errors as
// transport failures. It returns nil for a nil err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindTransport, Code: KindTransport.String(), Message: KindTransport.UserMessage(), Err: err}
}
