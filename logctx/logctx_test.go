package logctx

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSilent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Tests replace slog.Default(), so they do not run in parallel.

func TestFrom_ReturnsDefault_WhenNoLoggerInContext(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	def := newSilent()
	slog.SetDefault(def)

	require.Same(t, def, From(context.Background()))
}

func TestIntoAndFrom_RoundTrip(t *testing.T) {
	l := newSilent()
	ctx := Into(context.Background(), l)
	require.Same(t, l, From(ctx))
}

func TestOr_FallbackOnWrongTypeOrNil(t *testing.T) {
	fallback := newSilent()

	ctxWrong := context.WithValue(context.Background(), ctxKey{}, "not-a-logger")
	require.Same(t, fallback, Or(ctxWrong, fallback))

	var nilLogger *slog.Logger
	ctxNil := context.WithValue(context.Background(), ctxKey{}, nilLogger)
	require.Same(t, fallback, Or(ctxNil, fallback))
}

func TestInto_ShadowsParentLogger(t *testing.T) {
	parentL, childL := newSilent(), newSilent()

	parent := Into(context.Background(), parentL)
	child := Into(parent, childL)

	require.Same(t, childL, From(child))
	require.Same(t, parentL, From(parent))
}
