// Package openrouter provides the reasoner port backed by the OpenRouter
// chat completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/opspilot-io/opspilot/internal/domain/state"
	"github.com/opspilot-io/opspilot/internal/port/reasoner"
	"github.com/opspilot-io/opspilot/internal/resilience"
)

const classifySystemPrompt = `You are an intent classifier for an operations assistant.
Classify the user request into exactly one of:
- "compliance": review of configs, policies, or changes against regulations
- "rca": root cause analysis of an incident, outage, or anomaly
- "workflow": planning or executing remediation and operational actions
- "mixed": the request clearly asks for more than one of the above
- "unknown": none of the above apply

Respond with JSON only: {"intent": "...", "reason": "..."}`

// Client talks to the OpenRouter chat completions API. It implements the
// reasoner port.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTries    uint
	httpClient  *http.Client
	breaker     *resilience.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the default model slug.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTries bounds the retry attempts per call.
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = n }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates an OpenRouter client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       "anthropic/claude-sonnet-4",
		temperature: 0.1,
		maxTries:    3,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Breaker returns the attached breaker, nil if none.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// Classify determines the intent of a user request. Transport failures are
// returned as errors; an unparsable model response degrades to the unknown
// intent.
func (c *Client) Classify(ctx context.Context, userInput string, fileNames []string) (reasoner.Classification, error) {
	user := userInput
	if len(fileNames) > 0 {
		user = fmt.Sprintf("%s\n\nAttached files: %s", userInput, strings.Join(fileNames, ", "))
	}

	raw, err := c.Analyze(ctx, classifySystemPrompt, user)
	if err != nil {
		return reasoner.Classification{}, fmt.Errorf("classify: %w", err)
	}

	var parsed struct {
		Intent string `json:"intent"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return reasoner.Classification{
			Intent: state.IntentUnknown,
			Reason: "unparsable classifier response",
		}, nil
	}
	return reasoner.Classification{
		Intent: state.ParseIntent(parsed.Intent),
		Reason: parsed.Reason,
	}, nil
}

// Analyze runs one system+user prompt pair and returns the model text.
func (c *Client) Analyze(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	data, err := c.doRequest(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// doRequest posts body to path with retry and circuit breaking. Client
// errors (4xx) are not retried.
func (c *Client) doRequest(ctx context.Context, path string, body []byte) ([]byte, error) {
	attempt := func() ([]byte, error) {
		var result []byte
		call := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
			if err != nil {
				return backoff.Permanent(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.apiKey)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("http request: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			switch {
			case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("openrouter API error %d: %s", resp.StatusCode, string(data))
			case resp.StatusCode >= 400:
				return backoff.Permanent(fmt.Errorf("openrouter API error %d: %s", resp.StatusCode, string(data)))
			}

			result = data
			return nil
		}

		if c.breaker != nil {
			if err := c.breaker.Execute(call); err != nil {
				return nil, err
			}
			return result, nil
		}
		if err := call(); err != nil {
			return nil, err
		}
		return result, nil
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
}

// stripFences removes a markdown code fence around a JSON payload, which
// some models emit despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
