package usagemeter

import (
	"fmt"
	"strings"
)

// Embedding model aliases map upstream model names onto catalog ids.
var embeddingAliases = map[string]string{
	"text-embedding-3-small": "openai-small",
	"text-embedding-3-large": "openai-large",
}

// Allowed output dimensions per embedding model, preferred first.
var embeddingDimensions = map[string][]int{
	"openai-small": {1536, 512},
	"openai-large": {3072, 1024, 256},
	"huggingface":  {384},
}

// NormalizeEmbeddingModel maps an upstream model name (or alias) onto its
// catalog id. Unknown names pass through unchanged.
func NormalizeEmbeddingModel(modelID string) string {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if normalized, ok := embeddingAliases[id]; ok {
		return normalized
	}
	return id
}

// SupportedEmbeddingModel reports whether modelID (or an alias of it) is in
// the embedding catalog.
func SupportedEmbeddingModel(modelID string) bool {
	_, ok := embeddingDimensions[NormalizeEmbeddingModel(modelID)]
	return ok
}

// EmbeddingDimensions returns the allowed output dimensions for a model,
// preferred first, or nil for unknown models.
func EmbeddingDimensions(modelID string) []int {
	dims := embeddingDimensions[NormalizeEmbeddingModel(modelID)]
	out := make([]int, len(dims))
	copy(out, dims)
	if len(out) == 0 {
		return nil
	}
	return out
}

// ResolveEmbeddingDimension validates a requested output dimension for a
// model. A zero request selects the model's preferred dimension.
func ResolveEmbeddingDimension(modelID string, requested int) (int, error) {
	normalized := NormalizeEmbeddingModel(modelID)
	dims, ok := embeddingDimensions[normalized]
	if !ok {
		return 0, fmt.Errorf("usagemeter: embedding model %q is not supported", modelID)
	}
	if requested == 0 {
		return dims[0], nil
	}
	for _, d := range dims {
		if d == requested {
			return d, nil
		}
	}
	return 0, fmt.Errorf("usagemeter: dimension %d is not allowed for %s, choose one of %s",
		requested, normalized, joinInts(dims))
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
