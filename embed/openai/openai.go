// Package openai provides an embedding provider backed by the OpenAI
// embeddings API (or any compatible endpoint).
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jrgochan/bookbrain/embed"
)

var _ embed.Provider = (*Provider)(nil)

// DefaultDimensions is the vector size of text-embedding-3-small.
const DefaultDimensions = 1536

// Options configure the OpenAI provider.
type Options struct {
	// Model is the embedding model to use.
	Model openai.EmbeddingModel

	// Dimensions overrides the embedding vector size. Zero keeps the
	// model's native size. The text-embedding-3 models accept shortened
	// embeddings, so a non-default size is requested from the API rather
	// than just declared locally.
	Dimensions int

	// RequestOptions are passed to the underlying client (API key,
	// base URL for compatible endpoints, etc).
	RequestOptions []option.RequestOption
}

// Provider generates embeddings using the OpenAI API.
type Provider struct {
	client      *openai.Client
	model       openai.EmbeddingModel
	dimensions  int
	requestDims bool
}

// New creates an OpenAI embedding provider.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model: openai.EmbeddingModelTextEmbedding3Small,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient(opts.RequestOptions...)
	p := &Provider{
		client:     &client,
		model:      opts.Model,
		dimensions: opts.Dimensions,
	}
	if p.dimensions > 0 {
		p.requestDims = true
	} else {
		p.dimensions = DefaultDimensions
	}
	return p
}

// Embed generates a vector embedding for the given text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: p.model,
	}
	if p.requestDims {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embed.ErrProviderUnavailable, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) != p.dimensions {
			return nil, fmt.Errorf("openai: embedding %d has %d dimensions, want %d", i, len(data.Embedding), p.dimensions)
		}
		v := make([]float32, len(data.Embedding))
		for j, x := range data.Embedding {
			v[j] = float32(x)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Dimension returns the embedding vector size.
func (p *Provider) Dimension() int { return p.dimensions }

// ModelName returns the name of the embedding model being used.
func (p *Provider) ModelName() string { return string(p.model) }

// Degraded always reports false: this provider serves a real model.
func (p *Provider) Degraded() bool { return false }
