// Package embeddings turns text into dense vectors via a Text
// Embeddings Inference (TEI) server speaking the OpenAI embeddings
// wire format.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Embedder produces one vector per input text, order preserved.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrEmbeddingFailed wraps transport and decode failures after the retry
// budget is spent.
var ErrEmbeddingFailed = errors.New("embedding request failed")

const (
	defaultConnectTimeout = 3 * time.Second
	defaultRequestTimeout = 10 * time.Second
	retryAttempts         = 3
	retryPause            = 400 * time.Millisecond
)

// TEIClient calls POST {base}/v1/embeddings. Failed requests are retried
// a fixed number of times with a fixed pause.
type TEIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTEIClient creates a client for the given base URL, for example
// http://localhost:3000.
func NewTEIClient(baseURL string, logger *zap.Logger) (*TEIClient, error) {
	if baseURL == "" {
		return nil, errors.New("tei base url required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	return &TEIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: defaultConnectTimeout,
			},
		},
		logger: logger.Named("tei"),
	}, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order. Empty input
// yields an empty result without a network call.
func (c *TEIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(embeddingRequest{Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encoding embedding request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		vectors, err := c.post(ctx, body, len(texts))
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		c.logger.Warn("embedding attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("texts", len(texts)),
			zap.Error(err))
		if attempt < retryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryPause):
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrEmbeddingFailed, retryAttempts, lastErr)
}

// Ping checks the TEI health endpoint.
func (c *TEIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tei unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tei health returned %d", resp.StatusCode)
	}
	return nil
}

func (c *TEIClient) post(ctx context.Context, body []byte, want int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tei returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(decoded.Data) != want {
		return nil, fmt.Errorf("tei returned %d embeddings, want %d", len(decoded.Data), want)
	}

	vectors := make([][]float32, want)
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= want {
			return nil, fmt.Errorf("tei returned out-of-range index %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
