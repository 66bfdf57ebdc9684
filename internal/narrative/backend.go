package narrative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Backend is a generative-text service. It returns the raw JSON document
// it produced for the prompt; validation happens in the caller.
type Backend interface {
	Generate(ctx context.Context, prompt Prompt, schema []byte) ([]byte, error)
}

// ErrEmptyCompletion is returned when the backend answers without choices.
var ErrEmptyCompletion = errors.New("completion has no choices")

// OpenAIBackend talks to any OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIBackend creates a backend. baseURL is the API root, e.g.
// https://api.openai.com/v1.
func NewOpenAIBackend(baseURL, apiKey, model string, client *http.Client) *OpenAIBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate implements Backend. The schema is already part of the system
// prompt; json_object mode keeps the model from answering in prose.
func (b *OpenAIBackend) Generate(ctx context.Context, prompt Prompt, _ []byte) ([]byte, error) {
	body, err := jsoniter.Marshal(chatRequest{
		Model: b.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out chatResponse
	if err := jsoniter.Unmarshal(data, &out); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if out.Error != nil && out.Error.Message != "" {
			return nil, fmt.Errorf("chat completions: status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return nil, fmt.Errorf("chat completions: status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	return []byte(out.Choices[0].Message.Content), nil
}
