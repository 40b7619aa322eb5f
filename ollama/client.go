package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "llama3.1:latest"
)

// Client writes assistant replies with a local ollama model.
type Client struct {
	client  *api.Client
	model   string
	baseURL string
}

func NewClient(baseURL, model string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultHost
	}
	if model == "" {
		model = DefaultModel
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		baseURL: baseURL,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Complete runs one chat turn and returns the whole reply. Streamed chunks
// are joined as they arrive.
func (c *Client) Complete(ctx context.Context, messages []api.Message) (string, error) {
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   func(b bool) *bool { return &b }(true),
	}

	var reply strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	out := strings.TrimSpace(reply.String())
	if out == "" {
		return "", fmt.Errorf("ollama chat: empty reply from %s", c.model)
	}
	return out, nil
}

// HasModel reports whether the configured model is pulled on the server.
// A bare name matches its ":latest" tag.
func (c *Client) HasModel(ctx context.Context) (bool, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list models: %w", err)
	}

	want := normalizeModel(c.model)
	for _, m := range resp.Models {
		if normalizeModel(m.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.List(ctx)
	return err
}

func normalizeModel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.Contains(name, ":") {
		name += ":latest"
	}
	return name
}
