package apiclient

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/logctx"
	"github.com/chimerakang/dashauth/metrics"
)

// HeaderRequestID carries the request id to the backend.
const HeaderRequestID = "X-Request-Id"

// authTransport is the request/response interceptor pair.
type authTransport struct {
	next      http.RoundTripper
	tokens    TokenSource
	userAgent string
	logger    *slog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token := dashauth.TokenFromContext(ctx)
	if token == "" && t.tokens != nil {
		token, _ = t.tokens.Read(ctx)
	}
	id := dashauth.RequestIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
	}

	r := req.Clone(ctx)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	r.Header.Set(HeaderRequestID, id)
	if t.userAgent != "" {
		r.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.next.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.tokens != nil {
		logctx.Or(ctx, t.logger).Info("backend_unauthorized",
			"path", req.URL.Path,
			"request_id", id,
			"token_fp", dashauth.Fingerprint(token),
		)
		t.tokens.Invalidate(ctx, dashauth.ReasonUnauthorized)
	}
	return resp, nil
}

// loggingTransport logs and times each backend round trip.
type loggingTransport struct {
	next    http.RoundTripper
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	elapsed := time.Since(start)

	log := logctx.Or(req.Context(), t.logger)
	if err != nil {
		log.Warn("backend_request_failed",
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", req.Header.Get(HeaderRequestID),
			"error", err,
		)
		t.metrics.RecordBackendRequest(req.URL.Path, "error", elapsed.Seconds())
		return nil, err
	}

	log.Debug("backend_request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(HeaderRequestID),
		"duration", elapsed,
	)
	t.metrics.RecordBackendRequest(req.URL.Path, strconv.Itoa(resp.StatusCode), elapsed.Seconds())
	return resp, nil
}
