// Package normalize rewrites raw conversational text into short,
// third-person memory statements via an OpenRouter chat model.
//
// Normalization is best-effort: when the model is unreachable or its
// output cannot be parsed, the raw input passes through unchanged so
// ingestion never blocks on the LLM.
package normalize

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

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/metrics"
)

// Normalizer converts raw texts into normalized memory candidates. model
// selects the chat model for this call; empty means the client default.
type Normalizer interface {
	Normalize(ctx context.Context, model string, texts []string) ([]Candidate, error)
}

// Candidate is one normalized memory proposal from the model.
type Candidate struct {
	Memory     string  `json:"memory"`
	Scope      string  `json:"scope,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
	Skip       bool    `json:"skip,omitempty"`
}

// ErrNormalizationFailed wraps transport failures after the retry budget
// is spent.
var ErrNormalizationFailed = errors.New("normalization request failed")

const (
	connectTimeout = 5 * time.Second
	requestTimeout = 15 * time.Second
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 4 * time.Second

	temperature = 0.2
	maxTokens   = 256
)

const systemPrompt = `You rewrite raw conversational text into concise third-person memory statements about the user.
Respond with a JSON array. Each element: {"memory": string, "scope": "prefs"|"facts"|"persona"|"constraints", "confidence": number, "language": string, "skip": boolean}.
Set skip=true for text with no durable information. Do not invent facts.`

// Client talks to the OpenRouter chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an OpenRouter normalization client. The model is the
// OpenRouter model slug, for example "openrouter/auto".
func NewClient(baseURL, apiKey, model string, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("openrouter base url required")
	}
	if model == "" {
		return nil, errors.New("normalization model required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
		logger: logger.Named("openrouter"),
	}, nil
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
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Normalize sends the raw texts to the model and parses its reply. On any
// failure the inputs are echoed back as candidates so callers can proceed.
func (c *Client) Normalize(ctx context.Context, model string, texts []string) ([]Candidate, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = c.model
	}

	content, err := c.complete(ctx, model, texts)
	if err != nil {
		c.logger.Warn("normalization unavailable, echoing input", zap.Error(err))
		metrics.NormalizationFallbacks.Inc()
		return echoCandidates(texts), nil
	}

	candidates := ParseCandidates(content)
	if len(candidates) == 0 {
		c.logger.Warn("normalization output unparseable, echoing input",
			zap.Int("reply_bytes", len(content)))
		metrics.NormalizationFallbacks.Inc()
		return echoCandidates(texts), nil
	}
	return candidates, nil
}

// Ping checks that the OpenRouter endpoint answers and the key is valid.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openrouter unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openrouter models returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, model string, texts []string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: strings.Join(texts, "\n")},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		&backoff.ExponentialBackOff{
			InitialInterval:     initialBackoff,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         maxBackoff,
			MaxElapsedTime:      0,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		}, maxAttempts-1), ctx)
	policy.Reset()

	var content string
	err = backoff.Retry(func() error {
		reply, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		content = reply
		return nil
	}, policy)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNormalizationFailed, err)
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("openrouter returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decoding chat response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", backoff.Permanent(errors.New("openrouter returned no choices"))
	}
	return decoded.Choices[0].Message.Content, nil
}

// ParseCandidates extracts candidates from a model reply. It tries a JSON
// array (possibly inside a fenced code block or surrounding prose),
// dropping skipped or empty entries, then falls back to one candidate per
// non-empty line, stripping "- " bullets.
func ParseCandidates(content string) []Candidate {
	if candidates := parseJSONArray(content); candidates != nil {
		return candidates
	}
	return parseLines(content)
}

func parseJSONArray(content string) []Candidate {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end <= start {
		return nil
	}

	var candidates []Candidate
	if err := json.Unmarshal([]byte(content[start:end+1]), &candidates); err != nil {
		return nil
	}

	out := candidates[:0]
	for _, c := range candidates {
		c.Memory = strings.TrimSpace(c.Memory)
		if c.Memory == "" || c.Skip {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseLines(content string) []Candidate {
	var candidates []Candidate
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		candidates = append(candidates, Candidate{Memory: line})
	}
	return candidates
}

func echoCandidates(texts []string) []Candidate {
	candidates := make([]Candidate, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		candidates = append(candidates, Candidate{Memory: text})
	}
	return candidates
}

// Passthrough is a Normalizer that echoes its input. Used when LLM
// normalization is disabled by write policy.
type Passthrough struct{}

func (Passthrough) Normalize(_ context.Context, _ string, texts []string) ([]Candidate, error) {
	return echoCandidates(texts), nil
}
