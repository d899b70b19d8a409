// Package embed implements the embedding provider chain (C2): an ordered
// fallback of Local -> Hosted -> Null, fronted by a SHA-256-keyed cache in
// internal/store.
package embed

import "context"

// Provider is the uniform interface every chain member satisfies (spec.md
// §9: "a small sealed variant set (Local | Hosted | Null) with a uniform
// embed operation"). texts and the returned vectors correspond
// positionally; a provider either embeds every text or returns an error —
// partial success is not a provider-level concept.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}
