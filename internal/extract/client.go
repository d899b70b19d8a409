package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChatClient talks to a gpt-4.1-nano-class chat-completion endpoint over
// plain net/http, following the same POST-JSON-decode-JSON shape as the
// embedding provider this daemon also talks to.
type ChatClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewChatClient builds a ChatClient against an OpenAI-compatible
// chat/completions endpoint.
func NewChatClient(baseURL, model, apiKey string) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends systemPrompt plus a user turn and returns the raw
// assistant content string, temperature 0.2, max 2000 tokens (spec.md
// §4.5). Shared by the extractor's memory-candidate prompt and the
// consolidator's belief-synthesis prompt.
func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0.2,
		MaxTokens:   2000,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("extract: marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("extract: build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("extract: call chat API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("extract: chat API error: %s - %s", resp.Status, string(respBody))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("extract: decode chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("extract: chat API returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}
