package embed

import (
	"fmt"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API (default).
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses the OpenAI embeddings API or a compatible endpoint.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings, no network.
	ProviderStatic ProviderType = "static"

	// ProviderNone disables query embedding; the semantic stage is skipped.
	ProviderNone ProviderType = "none"
)

// Options configures NewEmbedder.
type Options struct {
	Provider      ProviderType
	Model         string
	Dimensions    int
	OllamaHost    string
	OpenAIBaseURL string
	OpenAIAPIKey  string

	// CacheSize <= 0 disables the query cache.
	CacheSize int

	// BreakerFailures and BreakerReset configure the circuit breaker put in
	// front of network providers.
	BreakerFailures int
	BreakerReset    time.Duration
}

// NewEmbedder creates the configured embedder, wrapped with the circuit breaker
// (network providers only) and the query cache. ProviderNone returns nil, nil.
func NewEmbedder(opts Options) (Embedder, error) {
	var embedder Embedder

	switch ProviderType(strings.ToLower(string(opts.Provider))) {
	case ProviderOllama, "":
		cfg := DefaultOllamaConfig()
		if opts.OllamaHost != "" {
			cfg.Host = opts.OllamaHost
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		cfg.Dimensions = opts.Dimensions
		embedder = NewGuardedEmbedder(NewOllamaEmbedder(cfg), opts.BreakerFailures, opts.BreakerReset)

	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:  opts.OpenAIAPIKey,
			Model:   opts.Model,
			BaseURL: opts.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		embedder = NewGuardedEmbedder(e, opts.BreakerFailures, opts.BreakerReset)

	case ProviderStatic:
		embedder = NewStaticEmbedder(opts.Dimensions)

	case ProviderNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: ollama, openai, static, none)", opts.Provider)
	}

	if opts.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}
