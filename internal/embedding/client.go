// Package embedding talks to an external embedding service that turns query
// text into the dense and sparse vectors the vector and sparse channels
// search against. Generating those vectors is treated as someone else's
// problem: this package is a thin HTTP client, not a model runtime.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
)

// SparseVector is a sparse (SPLADE-style) vector: parallel index/value
// pairs over a fixed vocabulary.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Client is an HTTP client for the embedding service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	// BaseURL is the base URL of the embedding service.
	BaseURL string

	// Timeout bounds a single embed call. It should be strictly smaller
	// than the orchestrator's per-channel timeout since embedding runs
	// ahead of channel dispatch.
	Timeout time.Duration

	// MaxIdleConns and IdleConnTimeout tune the underlying transport for a
	// service that is called on every request.
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8091",
		Timeout:         500 * time.Millisecond,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = DefaultConfig().MaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = DefaultConfig().IdleConnTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type denseResponse struct {
	Vector []float32 `json:"vector"`
}

type sparseResponse struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// apiError mirrors the embedding service's JSON error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dense embeds query text into a dense vector for the vector channel.
func (c *Client) Dense(ctx context.Context, text string) ([]float32, error) {
	var resp denseResponse
	if err := c.post(ctx, "/v1/embed/dense", embedRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

// Sparse embeds query text into a sparse vector for the sparse channel.
func (c *Client) Sparse(ctx context.Context, text string) (SparseVector, error) {
	var resp sparseResponse
	if err := c.post(ctx, "/v1/embed/sparse", embedRequest{Text: text}, &resp); err != nil {
		return SparseVector{}, err
	}
	return SparseVector{Indices: resp.Indices, Values: resp.Values}, nil
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(errors.CodeDeadlineExceeded, "embedding request deadline exceeded", ctx.Err())
		}
		return errors.Wrap(errors.CodeInternal, "embedding request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to read embedding response", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr != nil || apiErr.Message == "" {
			return errors.New(errors.CodeInternal, fmt.Sprintf("embedding service returned HTTP %d", resp.StatusCode))
		}
		return errors.New(errors.CodeInternal, fmt.Sprintf("embedding service error: %s", apiErr.Message))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errors.Wrap(errors.CodeInternal, "failed to unmarshal embedding response", err)
		}
	}

	return nil
}
