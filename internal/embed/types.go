// Package embed provides the embedding profile and provider chain.
//
// A Provider turns text into fixed-length vectors. Documents and queries may
// use different prefixes but always share one dimension; the dimension is
// part of the store's identity (the profile slug names the database file).
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Common constants.
const (
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries bounds retry attempts on transient failures.
	DefaultMaxRetries = 3

	// MaxInputRunes is the deterministic truncation point for over-long
	// inputs. Callers observe truncation, not failure.
	MaxInputRunes = 8192

	// StaticDimensions is the dimension of the static fallback provider.
	StaticDimensions = 256
)

// Profile is the identity (provider, model, dim) of an embedding space.
// Vectors from different profiles are never comparable.
type Profile struct {
	Provider string
	Model    string
	Dim      int
}

// Slug returns a stable short hash of the profile, used as the database file
// suffix and persisted in the config table on first use.
func (p Profile) Slug() string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", p.Provider, p.Model, p.Dim)))
	return hex.EncodeToString(h[:])[:12]
}

// String implements fmt.Stringer.
func (p Profile) String() string {
	return fmt.Sprintf("%s/%s (%dd)", p.Provider, p.Model, p.Dim)
}

// Provider generates vector embeddings for text.
type Provider interface {
	// EmbedDocument embeds text for storage.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds text for retrieval. Shares the document dimension.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Profile returns the provider identity.
	Profile() Profile

	// Ready reports whether the provider can serve requests now.
	Ready(ctx context.Context) bool

	// AwaitReady blocks until the provider is ready or ctx expires.
	AwaitReady(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// truncate clamps text to MaxInputRunes deterministically.
func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxInputRunes {
		return text
	}
	return string(runes[:MaxInputRunes])
}

// normalizeVector scales v to unit length. Zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
