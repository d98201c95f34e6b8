// Package ollama implements a model backend that asks a local Ollama LLM for
// the probability that a text is real news.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"
)

const (
	DefaultURL     = "http://localhost:11434"
	DefaultModel   = "gpt-oss:20b"
	DefaultTimeout = 360 * time.Second

	// DefaultRequestsPerSecond throttles generate calls
	DefaultRequestsPerSecond = 2.0

	// maxPromptRunes bounds the text embedded in a prompt
	maxPromptRunes = 4000
)

// ErrNoVerdict is returned when the model response carries no usable probability
var ErrNoVerdict = errors.New("no verdict in model response")

// Client wraps the Ollama API client
type Client struct {
	client  *api.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a new Ollama client. requestsPerSecond <= 0 uses the default.
func New(ollamaURL, model string, requestsPerSecond float64) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}

	baseURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &Client{
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   model,
		timeout: DefaultTimeout,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:  slog.Default().With("component", "ollama", "model", model),
	}, nil
}

// Name identifies the backend
func (c *Client) Name() string {
	return "ollama:" + c.model
}

// Initialize checks that the server is reachable and the model is pulled
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	if _, err := c.client.Show(ctx, &api.ShowRequest{Model: c.model}); err != nil {
		return fmt.Errorf("model %s unavailable: %w", c.model, err)
	}
	return nil
}

// Predict asks the model to rate text and returns P(real)
func (c *Client) Predict(ctx context.Context, text string) (float64, error) {
	response, err := c.generate(ctx, classifyPrompt(text))
	if err != nil {
		return 0, err
	}
	return parseVerdict(response)
}

// Describe reports the backend configuration
func (c *Client) Describe() map[string]any {
	return map[string]any{
		"model":               c.model,
		"timeout":             c.timeout.String(),
		"requests_per_second": float64(c.limiter.Limit()),
	}
}

// generate sends a non-streaming, JSON-formatted generate request
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	c.logger.Debug("sending generate request", "timeout", c.timeout)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  new(bool), // false
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": 0},
	}

	var response strings.Builder
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		response.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		c.logger.Warn("generation failed", "error", err)
		return "", fmt.Errorf("generation failed: %w", err)
	}

	result := strings.TrimSpace(response.String())
	c.logger.Debug("response received", "chars", len(result))
	return result, nil
}

func classifyPrompt(text string) string {
	if r := []rune(text); len(r) > maxPromptRunes {
		text = string(r[:maxPromptRunes])
	}
	return fmt.Sprintf(`You are a fact-checking assistant. Decide whether the following news text is REAL (credible, sourced, factual reporting) or FAKE (clickbait, conspiracy, fabricated or manipulative content). The text may be in English or Polish.

Return ONLY a JSON object with these fields:
- real_probability: number between 0.0 and 1.0, the probability that the text is real news
- reasoning: one short sentence

Text:
%s

JSON:`, text)
}

// verdictResponse is the JSON object the classify prompt asks for
type verdictResponse struct {
	RealProbability *float64 `json:"real_probability"`
	Reasoning       string   `json:"reasoning"`
}

// parseVerdict extracts real_probability from a model response, tolerating
// prose around the JSON object. Values are clamped to [0,1].
func parseVerdict(response string) (float64, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return 0, fmt.Errorf("%w: no JSON object found", ErrNoVerdict)
	}

	var v verdictResponse
	if err := json.Unmarshal([]byte(response[start:end+1]), &v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoVerdict, err)
	}
	if v.RealProbability == nil || math.IsNaN(*v.RealProbability) {
		return 0, fmt.Errorf("%w: missing real_probability", ErrNoVerdict)
	}

	return math.Max(0, math.Min(1, *v.RealProbability)), nil
}
