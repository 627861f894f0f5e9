// Package llm calls an OpenAI-compatible chat completion endpoint and
// implements the generative provider interface.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mcr-lab/mcr/pkg/mcr/config"
	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
)

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int

	HTTPClient *http.Client

	tokens atomic.Int64
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.Model) *Client {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:      cfg.APIKey,
		Model:       cfg.Name,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends prompt as a single user message and returns the completion
// text. It satisfies the generative provider interface.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.BaseURL == "" || c.Model == "" {
		return "", fmt.Errorf("%w: llm base URL and model required", internalerr.ErrInvalidConfig)
	}
	payload, err := c.send(ctx, []chatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", internalerr.ErrBackend)
	}
	c.tokens.Add(int64(payload.Usage.TotalTokens))
	return payload.Choices[0].Message.Content, nil
}

// TotalTokens reports cumulative token usage across completions, per the
// backend's own usage accounting.
func (c *Client) TotalTokens() int64 { return c.tokens.Load() }

func (c *Client) send(ctx context.Context, messages []chatMessage) (*chatResponse, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrBackend, err)
	}
	defer resp.Body.Close()
	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrBackend, err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("%w: %s", internalerr.ErrBackend, payload.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", internalerr.ErrBackend, resp.StatusCode)
	}
	return &payload, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
