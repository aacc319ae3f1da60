package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// NewEmbedder creates a langchaingo embedder for the configured provider
func NewEmbedder(llmConfig *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch llmConfig.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		client = llm
	case config.ProviderOpenAI:
		llm, err := openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithEmbeddingModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrConfiguration, llmConfig.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// Provider turns text into fixed-dimension vectors. Every failure, including a
// degenerate vector, is reported as models.ErrEmbeddingFailure.
type Provider struct {
	embedder  embeddings.Embedder
	timeout   time.Duration
	dimension atomic.Int64
	retryOpts []retry.Option
	cache     *cache.Cache
}

type Option func(*Provider)

// WithDimension pins the expected vector length. Without it the length of the
// first vector returned becomes the expectation.
func WithDimension(d int) Option {
	return func(p *Provider) {
		p.dimension.Store(int64(d))
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

func WithRetry(opts ...retry.Option) Option {
	return func(p *Provider) {
		p.retryOpts = opts
	}
}

// WithCache remembers vectors of recently embedded texts for ttl.
func WithCache(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.cache = cache.New(ttl, 2*ttl)
		}
	}
}

func NewProvider(embedder embeddings.Embedder, opts ...Option) *Provider {
	p := &Provider{
		embedder:  embedder,
		retryOpts: []retry.Option{retry.Attempts(1)},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dimension is the vector length produced so far, or zero before the first call.
func (p *Provider) Dimension() int {
	return int(p.dimension.Load())
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.cache != nil {
		if v, ok := p.cache.Get(text); ok {
			return cloneVector(v.([]float32)), nil
		}
	}

	opts := append([]retry.Option{retry.Context(ctx), retry.LastErrorOnly(true)}, p.retryOpts...)
	vec, err := retry.DoWithData(func() ([]float32, error) {
		callCtx, cancel := p.callContext(ctx)
		defer cancel()
		return p.embedder.EmbedQuery(callCtx, text)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingFailure, err)
	}
	if err := p.check(vec); err != nil {
		return nil, err
	}

	if p.cache != nil {
		p.cache.SetDefault(text, cloneVector(vec))
	}
	return vec, nil
}

func (p *Provider) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Provider) check(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: provider returned an empty vector", models.ErrEmbeddingFailure)
	}

	zero := true
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: provider returned a non-finite value", models.ErrEmbeddingFailure)
		}
		if v != 0 {
			zero = false
		}
	}
	if zero {
		return fmt.Errorf("%w: provider returned a zero vector", models.ErrEmbeddingFailure)
	}

	want := p.dimension.Load()
	if want == 0 && p.dimension.CompareAndSwap(0, int64(len(vec))) {
		return nil
	}
	want = p.dimension.Load()
	if int64(len(vec)) != want {
		return fmt.Errorf("%w: %w: got %d, want %d", models.ErrEmbeddingFailure, models.ErrDimensionMismatch, len(vec), want)
	}
	return nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
