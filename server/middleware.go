package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/apiclient"
	"github.com/chimerakang/dashauth/logctx"
)

// KeyRequestID is the gin.Context key holding the request id.
const KeyRequestID = "dashauth_request_id"

// requestID propagates X-Request-Id, generating one when absent, and puts
// it in the request context so backend calls carry it on.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(apiclient.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(KeyRequestID, id)
		c.Header(apiclient.HeaderRequestID, id)
		c.Request = c.Request.WithContext(dashauth.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog stores a request-scoped logger in the context and logs each
// request once it is served.
func accessLog(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLogger := l.With(slog.String("request_id", c.GetString(KeyRequestID)))
		c.Request = c.Request.WithContext(logctx.Into(c.Request.Context(), reqLogger))

		start := time.Now()
		c.Next()

		reqLogger.LogAttrs(c.Request.Context(), slog.LevelInfo, "http",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("dur", time.Since(start)),
			slog.Int("bytes", c.Writer.Size()),
		)
	}
}

func recovery(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logctx.Or(c.Request.Context(), l).Error("panic_recovered",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(dashauth.KindInternal, "internal error"))
			}
		}()
		c.Next()
	}
}
