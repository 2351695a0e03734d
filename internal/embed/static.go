package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// StaticProvider is a deterministic, dependency-free embedder. Each token
// hashes into a few buckets of a fixed-size vector; the result is normalized.
// Quality is far below a neural model but it is always ready, which makes it
// the offline fallback and the test double.
type StaticProvider struct {
	dims int
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a static provider with StaticDimensions.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{dims: StaticDimensions}
}

// EmbedDocument embeds text. Documents and queries share one projection here;
// the asymmetry of neural prefixes has no analogue for hashed features.
func (p *StaticProvider) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

// EmbedQuery embeds text identically to EmbedDocument.
func (p *StaticProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

func (p *StaticProvider) embed(text string) []float32 {
	vec := make([]float32, p.dims)
	for _, tok := range tokenize(truncate(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		// Three buckets per token; sign from a hash bit keeps the space
		// roughly zero-centered.
		for i := 0; i < 3; i++ {
			bucket := int((sum >> (i * 16)) % uint64(p.dims))
			if (sum>>(48+i))&1 == 1 {
				vec[bucket] += 1
			} else {
				vec[bucket] -= 1
			}
		}
	}
	return normalizeVector(vec)
}

// Profile returns the static identity.
func (p *StaticProvider) Profile() Profile {
	return Profile{Provider: "static", Model: "hashed-bow", Dim: p.dims}
}

// Ready always reports true.
func (p *StaticProvider) Ready(ctx context.Context) bool { return true }

// AwaitReady returns immediately.
func (p *StaticProvider) AwaitReady(ctx context.Context) error { return nil }

// Close is a no-op.
func (p *StaticProvider) Close() error { return nil }

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
