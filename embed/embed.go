// Package embed defines the text-embedding provider abstraction and the
// degraded-mode fallback used when no real model is reachable.
//
// A Provider declares its dimensionality up front; an index persists vectors
// of exactly that length for its whole lifetime, so swapping providers of a
// different dimension requires a rebuild. Providers report whether they are
// degraded so callers can surface reduced retrieval quality.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// ErrProviderUnavailable is returned when an embedding backend cannot be
// reached and no fallback substitution was requested.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// Provider generates fixed-dimension embeddings for text.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the embedding vector for text, always of length Dimension.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed vector length produced by this provider.
	Dimension() int

	// ModelName identifies the underlying model for observability.
	ModelName() string

	// Degraded reports whether this provider produces non-semantic
	// fallback vectors rather than real model output.
	Degraded() bool
}

// Pinger is an optional interface for providers that can cheaply verify
// backend connectivity without running inference.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewAuto returns primary if it is reachable, or a deterministic Fallback of
// the same dimension if it is not.
//
// This is the construction path for callers that must keep working with
// reduced quality rather than fail hard when the model backend is down. The
// substitution is observable via Degraded() and should be logged by the
// caller.
func NewAuto(ctx context.Context, primary Provider) Provider {
	if primary == nil {
		return NewFallback(DefaultFallbackDimension)
	}

	p, ok := primary.(Pinger)
	if !ok {
		return primary
	}

	if err := p.Ping(ctx); err != nil {
		return NewFallback(primary.Dimension())
	}

	return primary
}

// batchEmbed implements EmbedBatch by sequential Embed calls, for providers
// whose backend has no native batch endpoint.
func batchEmbed(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}
