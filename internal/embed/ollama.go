package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
)

// Nomic-style task prefixes. Models trained with asymmetric prefixes retrieve
// better when documents and queries are embedded differently.
const (
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
)

// OllamaConfig configures the Ollama HTTP provider.
type OllamaConfig struct {
	// Host is the Ollama base URL, e.g. "http://localhost:11434".
	Host string
	// Model is the embedding model name.
	Model string
	// Dimensions pins the expected dimension. 0 auto-detects on first use.
	Dimensions int
	// Timeout bounds a single request.
	Timeout time.Duration
}

// OllamaProvider generates embeddings via Ollama's /api/embed endpoint.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig

	mu     sync.RWMutex
	dims   int
	ready  bool
	closed bool
}

var _ Provider = (*OllamaProvider)(nil)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaProvider creates an Ollama provider. No network call happens here;
// readiness is probed lazily so a stopped Ollama does not block construction.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	// No client-level timeout: per-request contexts control deadlines.
	return &OllamaProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}
}

// EmbedDocument embeds text with the document prefix.
func (p *OllamaProvider) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return p.embed(ctx, documentPrefix+truncate(text))
}

// EmbedQuery embeds text with the query prefix.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(ctx, queryPrefix+truncate(text))
}

func (p *OllamaProvider) embed(ctx context.Context, input string) ([]float32, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, engerrors.New(engerrors.CodeUnavailable, "embedding provider is closed", nil)
	}
	p.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, engerrors.Wrap(engerrors.CodeUnavailable, fmt.Errorf("ollama request failed: %w", err)).
			WithRecovery("verify the Ollama server is running", "check the embedding endpoint in config")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, engerrors.Newf(engerrors.CodeEmbeddingFailed,
			"ollama returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, engerrors.Wrap(engerrors.CodeEmbeddingFailed, fmt.Errorf("decode embed response: %w", err))
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, engerrors.New(engerrors.CodeEmbeddingFailed, "ollama returned an empty embedding", nil)
	}

	vec := normalizeVector(out.Embeddings[0])

	p.mu.Lock()
	if p.dims == 0 {
		p.dims = len(vec)
	}
	p.ready = true
	dims := p.dims
	p.mu.Unlock()

	if len(vec) != dims {
		return nil, engerrors.DimensionMismatch(dims, len(vec))
	}
	return vec, nil
}

// Profile returns the provider identity. When dimensions were auto-detected
// the profile reflects the detected value.
func (p *OllamaProvider) Profile() Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Profile{Provider: "ollama", Model: p.config.Model, Dim: p.dims}
}

// Ready probes the provider with a cheap tags request.
func (p *OllamaProvider) Ready(ctx context.Context) bool {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return false
	}
	if p.ready {
		p.mu.RUnlock()
		return true
	}
	p.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	ok := resp.StatusCode == http.StatusOK

	if ok {
		p.mu.Lock()
		p.ready = true
		p.mu.Unlock()
	}
	return ok
}

// AwaitReady polls Ready until success or ctx expiry.
func (p *OllamaProvider) AwaitReady(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.Ready(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return engerrors.Wrap(engerrors.CodeUnavailable, fmt.Errorf("embedding provider not ready: %w", ctx.Err())).
				WithRecovery("start the Ollama server and retry", "or switch embedding.provider to \"static\"")
		case <-ticker.C:
		}
	}
}

// Close releases idle connections.
func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.transport.CloseIdleConnections()
	return nil
}
