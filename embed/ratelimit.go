package embed

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider with a token-bucket limit on embedding calls.
//
// Remote embedding backends enforce request quotas; wrapping the provider
// keeps the limit in one place instead of spreading sleeps through the
// indexing pipeline.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

var _ Provider = (*RateLimited)(nil)

// NewRateLimited wraps p, allowing callsPerSec embedding calls per second
// with the given burst.
func NewRateLimited(p Provider, callsPerSec float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(callsPerSec), burst),
	}
}

// Embed waits for the limiter, then delegates to the wrapped provider.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// EmbedBatch reserves one token per text, then delegates.
func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := len(texts)
	// WaitN rejects requests larger than the burst; fall back to draining
	// the bucket in burst-sized steps.
	for n > 0 {
		step := min(n, r.limiter.Burst())
		if err := r.limiter.WaitN(ctx, step); err != nil {
			return nil, err
		}
		n -= step
	}
	return r.inner.EmbedBatch(ctx, texts)
}

// Dimension returns the wrapped provider's dimensionality.
func (r *RateLimited) Dimension() int { return r.inner.Dimension() }

// ModelName returns the wrapped provider's model name.
func (r *RateLimited) ModelName() string { return r.inner.ModelName() }

// Degraded reports the wrapped provider's degraded status.
func (r *RateLimited) Degraded() bool { return r.inner.Degraded() }

// Ping delegates to the wrapped provider when it supports pinging.
func (r *RateLimited) Ping(ctx context.Context) error {
	if p, ok := r.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
