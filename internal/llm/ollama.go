// Package llm talks to a locally hosted Ollama chat service.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Client sends single-turn chat requests to one model.
type Client struct {
	api   *api.Client
	model string
}

// New builds a client for the Ollama server at host (for example
// http://127.0.0.1:11434). A nil httpClient means http.DefaultClient; no
// request timeout is applied beyond the caller's context.
func New(host, model string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ollama host %q must be an absolute URL", host)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{api: api.NewClient(base, httpClient), model: model}, nil
}

// Chat sends prompt as a user message and returns the assistant's reply once
// it is complete.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
	}
	var reply strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat (%s): %w", c.model, err)
	}
	return reply.String(), nil
}
