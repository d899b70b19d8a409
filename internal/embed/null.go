package embed

import "context"

// Null is the terminal fallback: it always "succeeds" with an all-nil
// result, signalling lexical-only mode downstream (spec.md §4.2 step 3).
type Null struct{}

func (Null) Name() string { return "null" }

func (Null) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
