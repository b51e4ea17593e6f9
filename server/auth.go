package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/logctx"
	"github.com/chimerakang/dashauth/session"
	"github.com/chimerakang/dashauth/session/provider"
)

const (
	stateCookieName = "__dashauth_state"
	pkceCookieName  = "__dashauth_pkce"
	flowTTL         = 5 * time.Minute
	flowCookiePath  = "/api/auth/callback/"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func errorBody(kind dashauth.ErrorKind, msg string) gin.H {
	return gin.H{"error": gin.H{"code": kind.String(), "message": msg}}
}

func writeError(c *gin.Context, err error) {
	e := dashauth.AsError(err)
	c.JSON(dashauth.StatusOf(e.Kind), errorBody(e.Kind, e.DisplayMessage()))
}

// loadRecord returns the request's record. An unreadable record is
// treated as unset.
func (s *Server) loadRecord(c *gin.Context) *session.Record {
	ctx := c.Request.Context()
	rec, err := s.store.Load(ctx, c.Request)
	if err != nil {
		logctx.Or(ctx, s.logger).WarnContext(ctx, "session_record_invalid", slog.String("err", err.Error()))
	}
	if rec == nil {
		rec = &session.Record{}
	}
	return rec
}

func (s *Server) saveRecord(c *gin.Context, rec *session.Record) bool {
	ctx := c.Request.Context()
	if err := s.store.Save(ctx, c.Writer, c.Request, rec); err != nil {
		logctx.Or(ctx, s.logger).ErrorContext(ctx, "session_save_failed", slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, errorBody(dashauth.KindInternal, "failed to persist session"))
		return false
	}
	return true
}

// getSession evaluates the record against the edge cookie and returns its view.
func (s *Server) getSession(c *gin.Context) {
	rec := s.engine.Evaluate(c.Request.Context(), s.loadRecord(c), s.edgeFor(c))
	if !s.saveRecord(c, rec) {
		return
	}
	c.JSON(http.StatusOK, rec.View())
}

func (s *Server) signInCredentials(c *gin.Context) {
	var in credentialsRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(dashauth.KindValidation, "email and password are required"))
		return
	}

	rec, err := s.engine.SignInCredentials(c.Request.Context(), in.Email, in.Password, s.edgeFor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if !s.saveRecord(c, rec) {
		return
	}
	c.JSON(http.StatusOK, rec.View())
}

func (s *Server) signOut(c *gin.Context) {
	ctx := c.Request.Context()
	s.engine.SignOut(ctx, s.loadRecord(c), s.edgeFor(c))
	if err := s.store.Clear(ctx, c.Writer, c.Request); err != nil {
		logctx.Or(ctx, s.logger).WarnContext(ctx, "session_clear_failed", slog.String("err", err.Error()))
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.providers.Names()})
}

// signInProvider starts a federated sign-in: state and PKCE verifier go
// into short-lived cookies scoped to the callback path.
func (s *Server) signInProvider(c *gin.Context) {
	p, err := s.providers.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody(dashauth.KindValidation, "unknown oauth provider"))
		return
	}

	state, err := provider.NewState()
	if err != nil {
		writeError(c, err)
		return
	}
	verifier, challenge := provider.NewPKCE()
	s.setFlowCookie(c, stateCookieName, state, flowTTL)
	s.setFlowCookie(c, pkceCookieName, verifier, flowTTL)

	c.Redirect(http.StatusFound, p.AuthCodeURL(state, challenge))
}

// callbackProvider finishes a federated sign-in and redirects to the
// client callback route with either a token or an error code.
func (s *Server) callbackProvider(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := s.providers.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody(dashauth.KindValidation, "unknown oauth provider"))
		return
	}

	id, providerErr := s.exchange(c, p)
	s.setFlowCookie(c, stateCookieName, "", 0)
	s.setFlowCookie(c, pkceCookieName, "", 0)

	target, rec := s.engine.CompleteFederated(ctx, id, providerErr)
	if rec != nil && !s.saveRecord(c, rec) {
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (s *Server) exchange(c *gin.Context, p provider.OAuthProvider) (*dashauth.Identity, error) {
	if e := c.Query("error"); e != "" {
		return nil, fmt.Errorf("provider returned %s: %s", e, c.Query("error_description"))
	}
	state, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || state != c.Query("state") {
		return nil, errors.New("invalid state")
	}
	code := c.Query("code")
	if code == "" {
		return nil, errors.New("missing code")
	}
	verifier, err := c.Cookie(pkceCookieName)
	if err != nil || verifier == "" {
		return nil, errors.New("missing pkce verifier")
	}
	return p.ExchangeCode(c.Request.Context(), code, verifier)
}

func (s *Server) setFlowCookie(c *gin.Context, name, value string, ttl time.Duration) {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     flowCookiePath,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	}
	if ttl <= 0 {
		ck.MaxAge = -1
	}
	http.SetCookie(c.Writer, ck)
}
