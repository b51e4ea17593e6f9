// Package ginguard adapts the route guard to Gin.
package ginguard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chimerakang/dashauth/guard"
)

// KeyDecision is the gin.Context key holding the guard Decision.
const KeyDecision = "dashauth_guard_decision"

// Guard returns Gin middleware enforcing g. Requests the guard does not
// allow are redirected with 307 and aborted.
func Guard(g *guard.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Check(c.Request)
		c.Set(KeyDecision, d)
		if !d.Allow {
			c.Redirect(http.StatusTemporaryRedirect, d.Location)
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetDecision returns the decision stored by Guard.
func GetDecision(c *gin.Context) (guard.Decision, bool) {
	v, ok := c.Get(KeyDecision)
	if !ok {
		return guard.Decision{}, false
	}
	d, ok := v.(guard.Decision)
	return d, ok
}
