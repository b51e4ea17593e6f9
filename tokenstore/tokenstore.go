// Package tokenstore keeps the bearer token in two places at once: the
// script store, reachable only from client code, and the edge store, the
// cookie the edge reads on every navigation.
//
// Both stores are written and cleared together. Reads go through a single
// reconciliation function that picks the authoritative copy and repairs the
// other before returning.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chimerakang/dashauth"
	"github.com/chimerakang/dashauth/metrics"
)

// Store names used in logs and metrics.
const (
	storeScript = "script"
	storeEdge   = "edge"
)

// ErrEmptyToken is returned by Write for an empty token. Use Clear instead.
var ErrEmptyToken = errors.New("dashauth/tokenstore: empty token")

// Repair says which store Reconcile found stale.
type Repair uint8

const (
	RepairNone Repair = iota
	RepairEdge
	RepairScript
)

func (r Repair) String() string {
	switch r {
	case RepairEdge:
		return storeEdge
	case RepairScript:
		return storeScript
	}
	return "none"
}

// Resolution is the outcome of reconciling the two stores.
type Resolution struct {
	Token  string
	Repair Repair
}

// Reconcile picks the authoritative token from the two stored values.
//
// Whichever store is non-empty wins over an empty one. Reads look at the
// script store first, but it does not settle a conflict: when both stores
// hold different tokens the edge copy wins and the script store is
// repaired. The session engine writes only the edge store when it
// refreshes or adopts a token, so on a mismatch the edge value is the newer
// one.
func Reconcile(script, edge string) Resolution {
	switch {
	case script == "" && edge == "":
		return Resolution{}
	case edge == "":
		return Resolution{Token: script, Repair: RepairEdge}
	case script == "":
		return Resolution{Token: edge, Repair: RepairScript}
	case script != edge:
		return Resolution{Token: edge, Repair: RepairScript}
	}
	return Resolution{Token: script}
}

// Store is the dual token store.
type Store struct {
	script  dashauth.ScriptStore
	edge    dashauth.EdgeStore
	key     string
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu serialises read-repair against writes inside one process.
	mu sync.Mutex

	hooksMu sync.RWMutex
	hooks   map[int]func(context.Context, dashauth.InvalidationReason)
	nextID  int
}

// compile-time check
var _ dashauth.TokenStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithKey sets the script store key. Default: dashauth.DefaultTokenKey.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClientConfig takes the script store key from cfg.
func WithClientConfig(cfg dashauth.Config) Option {
	return func(s *Store) {
		if cfg.TokenKey != "" {
			s.key = cfg.TokenKey
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a dual store over script and edge. Both are required.
func New(script dashauth.ScriptStore, edge dashauth.EdgeStore, opts ...Option) *Store {
	s := &Store{
		script: script,
		edge:   edge,
		key:    dashauth.DefaultTokenKey,
		logger: slog.Default(),
		hooks:  make(map[int]func(context.Context, dashauth.InvalidationReason)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Read returns the reconciled token. A stale store is repaired before
// Read returns; repair failures are logged and do not affect the result.
func (s *Store) Read(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	script, _, err := s.script.Get(ctx, s.key)
	if err != nil {
		s.failed(ctx, storeScript, "read", err)
		script = ""
	}
	edge, _ := s.edge.ReadToken(ctx)

	res := Reconcile(script, edge)
	switch res.Repair {
	case RepairEdge:
		if err := s.edge.WriteToken(ctx, res.Token); err != nil {
			s.failed(ctx, storeEdge, "repair", err)
		} else {
			s.repaired(ctx, RepairEdge, res.Token)
		}
	case RepairScript:
		if err := s.script.Set(ctx, s.key, res.Token); err != nil {
			s.failed(ctx, storeScript, "repair", err)
		} else {
			s.repaired(ctx, RepairScript, res.Token)
		}
	}
	return res.Token, res.Token != ""
}

// Write sets token in both stores. A failure of one store is logged and
// swallowed; an error is returned only when neither store took the token.
func (s *Store) Write(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	errScript := s.script.Set(ctx, s.key, token)
	if errScript != nil {
		s.failed(ctx, storeScript, "write", errScript)
	}
	errEdge := s.edge.WriteToken(ctx, token)
	if errEdge != nil {
		s.failed(ctx, storeEdge, "write", errEdge)
	}
	if errScript != nil && errEdge != nil {
		return fmt.Errorf("dashauth/tokenstore: write failed on both stores: %w", errors.Join(errScript, errEdge))
	}
	return nil
}

// Clear removes the token from both stores with the same best-effort
// policy as Write.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

func (s *Store) clearLocked(ctx context.Context) error {
	errScript := s.script.Delete(ctx, s.key)
	if errScript != nil {
		s.failed(ctx, storeScript, "clear", errScript)
	}
	errEdge := s.edge.ClearToken(ctx)
	if errEdge != nil {
		s.failed(ctx, storeEdge, "clear", errEdge)
	}
	if errScript != nil && errEdge != nil {
		return fmt.Errorf("dashauth/tokenstore: clear failed on both stores: %w", errors.Join(errScript, errEdge))
	}
	return nil
}

// Invalidate clears both stores and then runs the OnInvalidate hooks
// synchronously, in registration order.
func (s *Store) Invalidate(ctx context.Context, reason dashauth.InvalidationReason) {
	s.mu.Lock()
	_ = s.clearLocked(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "token_invalidated", slog.String("reason", reason.String()))
	s.metrics.RecordInvalidation(reason.String())

	for _, fn := range s.snapshotHooks() {
		fn(ctx, reason)
	}
}

// OnInvalidate registers fn to run after every Invalidate.
func (s *Store) OnInvalidate(fn func(context.Context, dashauth.InvalidationReason)) (remove func()) {
	s.hooksMu.Lock()
	id := s.nextID
	s.nextID++
	s.hooks[id] = fn
	s.hooksMu.Unlock()

	return func() {
		s.hooksMu.Lock()
		delete(s.hooks, id)
		s.hooksMu.Unlock()
	}
}

func (s *Store) snapshotHooks() []func(context.Context, dashauth.InvalidationReason) {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()

	out := make([]func(context.Context, dashauth.InvalidationReason), 0, len(s.hooks))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.hooks[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (s *Store) failed(ctx context.Context, store, op string, err error) {
	s.logger.WarnContext(ctx, "token_store_failed",
		slog.String("store", store),
		slog.String("op", op),
		slog.String("err", err.Error()),
	)
	s.metrics.RecordStoreFailure(store, op)
}

func (s *Store) repaired(ctx context.Context, r Repair, token string) {
	s.logger.DebugContext(ctx, "token_store_repaired",
		slog.String("store", r.String()),
		slog.String("token_fp", dashauth.Fingerprint(token)),
	)
	s.metrics.RecordStoreRepair(r.String())
}
