package fake

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chimerakang/dashauth"
)

// ErrorBody is the backend error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable machine-readable code and a safe message.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// NewHandler serves b over the dashboard REST API:
//
//	POST /auth/login
//	POST /auth/register
//	GET  /auth/me
//	POST /auth/refresh-token
//	POST /auth/social-login
//	POST /auth/logout
func NewHandler(b *Backend) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
			var in loginRequest
			if !decode(w, r, &in) {
				return
			}
			res, err := b.Login(r.Context(), in.Email, in.Password)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/register", func(w http.ResponseWriter, r *http.Request) {
			var in dashauth.RegisterInput
			if !decode(w, r, &in) {
				return
			}
			res, err := b.Register(r.Context(), in)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, res)
		})

		r.Post("/social-login", func(w http.ResponseWriter, r *http.Request) {
			var in dashauth.Identity
			if !decode(w, r, &in) {
				return
			}
			token, err := b.SocialLogin(r.Context(), in)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, tokenResponse{Token: token})
		})

		r.Group(func(r chi.Router) {
			r.Use(bearer)

			r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
				u, err := b.Me(r.Context())
				if err != nil {
					writeError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, u)
			})

			r.Post("/refresh-token", func(w http.ResponseWriter, r *http.Request) {
				token, err := b.RefreshToken(r.Context())
				if err != nil {
					writeError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, tokenResponse{Token: token})
			})

			r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
				if err := b.Logout(r.Context()); err != nil {
					writeError(w, r, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})

	return r
}

// bearer requires an Authorization header and pins its token in the context.
func bearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			writeError(w, r, dashauth.NewError(dashauth.KindUnauthorized, "missing authorization token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(dashauth.WithToken(r.Context(), token)))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, dashauth.NewError(dashauth.KindValidation, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *dashauth.Error
	if !errors.As(err, &e) {
		e = dashauth.NewError(dashauth.KindInternal, "internal error")
	}
	kind := e.Kind
	if kind == dashauth.KindMissingToken {
		// the wire has no notion of a local missing token
		kind = dashauth.KindUnauthorized
	}
	writeJSON(w, dashauth.StatusOf(kind), ErrorBody{Error: ErrorDetail{
		Code:      kind.String(),
		Message:   e.DisplayMessage(),
		RequestID: middleware.GetReqID(r.Context()),
	}})
}
