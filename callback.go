package dashauth

import "net/url"

// CallbackPath is the client route that finishes a federated sign-in.
const CallbackPath = "/auth/callback"

// Error codes carried by the callback route's error parameter.
const (
	// CallbackErrBackendAuthFailed means the provider succeeded but the
	// backend refused the social-login handshake.
	CallbackErrBackendAuthFailed = "BackendAuthFailed"

	// CallbackErrProvider means the provider leg itself failed.
	CallbackErrProvider = "OAuthCallback"
)

// CallbackTokenURL is the redirect target after a successful handshake.
func CallbackTokenURL(token string) string {
	return CallbackPath + "?" + url.Values{"token": {token}}.Encode()
}

// CallbackErrorURL is the redirect target after a failed handshake.
func CallbackErrorURL(code string) string {
	return CallbackPath + "?" + url.Values{"error": {code}}.Encode()
}

// CallbackError converts a callback error code into a classified error.
func CallbackError(code string) *Error {
	if code == CallbackErrBackendAuthFailed {
		return &Error{
			Kind:    KindUnauthorized,
			Code:    code,
			Message: "We could not finish signing you in with our servers. Please try again.",
		}
	}
	return &Error{
		Kind:    KindUnauthorized,
		Code:    code,
		Message: "Sign-in failed. Please try again.",
	}
}
