package embed

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/engramhq/engram/internal/config"
)

// NewFromConfig builds the provider chain selected by cfg:
// base provider -> resilience (retry/breaker/limit) -> LRU cache.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (Provider, error) {
	var base Provider
	switch cfg.Embedding.Provider {
	case "ollama":
		base = NewOllamaProvider(OllamaConfig{
			Host:       cfg.Embedding.Endpoint,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		})
	case "static":
		base = NewStaticProvider()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	resilient := NewResilientProvider(base, ResilientConfig{
		MaxRetries:        cfg.Embedding.MaxRetries,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	}, logger)

	return NewCachedProvider(resilient, cfg.Embedding.CacheSize), nil
}
