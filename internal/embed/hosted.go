package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBatch is the per-request input cap for the hosted provider (spec.md
// §4.2: "batched at ≤100 inputs per request").
const maxBatch = 100

// Hosted calls an OpenAI-compatible /embeddings endpoint (grounded on
// ODSapper's internal/memory/embedding_lmstudio.go LMStudioEmbedding,
// generalized from single-text calls to batched requests with a pinned
// output dimensionality).
type Hosted struct {
	baseURL string
	model   string
	apiKey  string
	dims    int
	client  *http.Client
}

// NewHosted builds a Hosted provider. dims pins the expected output width
// (DIMS=768); responses with a different width are rejected.
func NewHosted(baseURL, model, apiKey string, dims int) *Hosted {
	return &Hosted{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *Hosted) Name() string { return "hosted" }

type hostedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type hostedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed batches texts into groups of at most maxBatch and issues one HTTP
// request per group, preserving input order in the result.
func (h *Hosted) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := h.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		copy(out[start:end], vecs)
	}
	return out, nil
}

func (h *Hosted) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(hostedRequest{Input: texts, Model: h.model})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal hosted request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build hosted request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: call hosted provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed: hosted provider error: %s - %s", resp.Status, string(respBody))
	}

	var parsed hostedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embed: decode hosted response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embed: hosted provider returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embed: hosted provider returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != h.dims {
			return nil, fmt.Errorf("embed: hosted provider returned %d dims, want %d", len(d.Embedding), h.dims)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
