// Package embed calls an OpenAI-compatible /embeddings endpoint with an LRU
// cache in front, and implements the embedding provider interface.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mcr-lab/mcr/pkg/mcr/config"
	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
)

// Client fetches embeddings over HTTP and caches them by input text.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	HTTPClient *http.Client
	cache      *lru.Cache[string, []float64]
}

// NewClient builds a Client from configuration. Returns an error only when
// the cache cannot be constructed.
func NewClient(cfg config.Embedding) (*Client, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:     cfg.APIKey,
		Model:      cfg.Name,
		HTTPClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Encode returns the embedding vector for text, serving repeats from cache.
func (c *Client) Encode(ctx context.Context, text string) ([]float64, error) {
	if c.BaseURL == "" || c.Model == "" {
		return nil, fmt.Errorf("%w: embedding base URL and model required", internalerr.ErrInvalidConfig)
	}
	if vec, ok := c.cache.Get(text); ok {
		return vec, nil
	}

	reqBody, err := json.Marshal(embedRequest{Model: c.Model, Input: []string{text}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/embeddings", bytes.NewReader(reqBody))
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

	var payload embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrBackend, err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("%w: %s", internalerr.ErrBackend, payload.Error.Message)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", internalerr.ErrBackend)
	}

	vec := payload.Data[0].Embedding
	c.cache.Add(text, vec)
	return vec, nil
}

// Similarity returns the cosine similarity of two vectors, in [-1, 1].
// Mismatched lengths or zero vectors score 0.
func (c *Client) Similarity(a, b []float64) float64 {
	return Cosine(a, b)
}

// Cosine computes cosine similarity between two vectors.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
