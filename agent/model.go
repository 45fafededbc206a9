package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"labpilot/config"
)

// NewChatModel builds the chat model from configuration. OpenAI-compatible
// endpoints (including local gateways) are reached through the same client
// by pointing BaseURL at them.
func NewChatModel(ctx context.Context, cfg config.Config) (model.ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is not configured")
	}
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "gpt-4o"
	}

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   modelName,
		Timeout: 120 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return cm, nil
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAIEmbedder creates an embedder against the configured endpoint.
// An empty model defaults to text-embedding-3-small.
func NewOpenAIEmbedder(cfg config.Config, embeddingModel string) *OpenAIEmbedder {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   embeddingModel,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding vector for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned no vector")
	}
	return parsed.Data[0].Embedding, nil
}
