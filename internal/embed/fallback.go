package embed

import (
	"context"
	"errors"
)

// ErrUnavailable reports that an embedding backend could not produce a
// vector (network failure or a response without the vector field).
var ErrUnavailable = errors.New("embedding unavailable")

// Fallback is the no-credential embedder: each character maps to
// (charcode mod 100) / 100, so the vector length equals the input length.
// It is intentionally non-semantic and exists only to keep the retrieval
// pipeline runnable without an API key; rankings it produces carry no
// meaning. It is pure and reproducible for identical inputs.
type Fallback struct{}

func (Fallback) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 0, len(text))
	for _, r := range text {
		vec = append(vec, float32(int(r)%100)/100)
	}
	return vec, nil
}
