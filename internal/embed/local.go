package embed

import (
	"context"
	"fmt"
	"sync"
)

// Local wraps an on-device embedding model reached over the same
// OpenAI-compatible HTTP shape as Hosted (most local model runners — the
// ones LM Studio itself front-ends in the teacher — speak this protocol),
// but serializes every call behind a single mutex, per
// spec.md §4.2 ("Single-threaded; all calls serialized through an internal
// queue") and §9's promise-chain-mutex note. A failed call never poisons
// the mutex: it is released in a defer regardless of outcome.
//
// No on-device embedding model library (ONNX/candle/ggml bindings or
// similar) appears anywhere in the retrieved corpus, so Local is built on
// the same net/http primitives as Hosted rather than inventing one; an
// unconfigured Local (empty baseURL) always errors immediately so the
// chain falls through to Hosted.
type Local struct {
	mu     sync.Mutex
	inner  *Hosted
	ready  bool
}

// NewLocal returns a Local provider. An empty baseURL means "not
// configured"; Embed then always fails fast.
func NewLocal(baseURL, model string, dims int) *Local {
	if baseURL == "" {
		return &Local{}
	}
	return &Local{inner: NewHosted(baseURL, model, "", dims), ready: true}
}

func (l *Local) Name() string { return "local" }

// Embed serializes one call at a time through the single-slot mutex
// (spec.md §5: "funnelled through a promise-chain mutex"). Texts within
// one call go through Hosted's batching (at most 100 inputs per request).
func (l *Local) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !l.ready {
		return nil, fmt.Errorf("embed: local provider not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Embed(ctx, texts)
}
