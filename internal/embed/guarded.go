package embed

import (
	"context"
	"errors"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// GuardedEmbedder puts a circuit breaker in front of a network provider so a
// dead provider costs one fast error per query instead of a full timeout.
// Cancellation by the caller is not counted as a provider failure.
type GuardedEmbedder struct {
	inner   Embedder
	breaker *amerrors.CircuitBreaker
}

var _ Embedder = (*GuardedEmbedder)(nil)

// NewGuardedEmbedder wraps inner. maxFailures and resetTimeout <= 0 use the breaker defaults.
func NewGuardedEmbedder(inner Embedder, maxFailures int, resetTimeout time.Duration) *GuardedEmbedder {
	return &GuardedEmbedder{
		inner: inner,
		breaker: amerrors.NewCircuitBreaker("embed:"+inner.ModelName(),
			amerrors.WithMaxFailures(maxFailures),
			amerrors.WithResetTimeout(resetTimeout),
			amerrors.WithFailureFilter(func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrEmptyInput)
			}),
		),
	}
}

// Embed implements Embedder. Returns amerrors.ErrCircuitOpen while the breaker is open.
func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return amerrors.CircuitExecute(g.breaker, func() ([]float32, error) {
		return g.inner.Embed(ctx, text)
	})
}

// State reports the breaker state.
func (g *GuardedEmbedder) State() amerrors.State {
	return g.breaker.State()
}

// Dimensions passes through to the inner embedder.
func (g *GuardedEmbedder) Dimensions() int { return g.inner.Dimensions() }

// ModelName passes through to the inner embedder.
func (g *GuardedEmbedder) ModelName() string { return g.inner.ModelName() }

// Available reports false while the breaker is open.
func (g *GuardedEmbedder) Available(ctx context.Context) bool {
	if g.breaker.State() == amerrors.StateOpen {
		return false
	}
	return g.inner.Available(ctx)
}

// Close closes the inner embedder.
func (g *GuardedEmbedder) Close() error { return g.inner.Close() }
