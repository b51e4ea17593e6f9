package server

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/guard/ginguard"
	"github.com/chimerakang/dashauth/logctx"
	"github.com/chimerakang/dashauth/session"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><title>{{.Path}}</title></head>
<body data-rule="{{.Rule}}"><h1>{{.Path}}</h1>
{{- with .User}}
<p data-user="{{.ID}}">Signed in as {{.Name}}</p>
{{- end}}
{{- with .Error}}
<p role="alert">{{.}}</p>
{{- end}}
</body></html>
`))

type pageData struct {
	Path  string
	Rule  string
	User  *dashauth.User
	Error string
}

func (s *Server) render(c *gin.Context, data pageData) {
	if d, ok := ginguard.GetDecision(c); ok {
		data.Rule = string(d.Rule)
	}
	data.Path = c.Request.URL.Path
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	_ = pageTmpl.Execute(c.Writer, data)
}

// page renders a placeholder for a dashboard route. Real screens are
// served by the front-end; the server only has to gate them.
func (s *Server) page(c *gin.Context) {
	s.render(c, pageData{})
}

// callbackPage is the route a federated sign-in lands on. A token is
// stored in the edge cookie and the session is evaluated against it, which
// resolves the user when the record does not carry that token yet. An error
// code, or no token at all, renders the mapped message.
func (s *Server) callbackPage(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Query("token")
	if code := c.Query("error"); code != "" || token == "" {
		if code == "" {
			code = dashauth.CallbackErrProvider
		}
		s.render(c, pageData{Error: dashauth.CallbackError(code).Message})
		return
	}

	edge := s.edgeFor(c)
	if err := edge.WriteToken(ctx, token); err != nil {
		logctx.Or(ctx, s.logger).WarnContext(ctx, "edge_write_failed", slog.String("err", err.Error()))
	}
	rec := s.engine.Evaluate(ctx, s.loadRecord(c), edge)
	if !s.saveRecord(c, rec) {
		return
	}
	if rec.State() != session.StateActive {
		s.render(c, pageData{Error: dashauth.CallbackError(dashauth.CallbackErrBackendAuthFailed).Message})
		return
	}
	s.render(c, pageData{User: rec.User()})
}
