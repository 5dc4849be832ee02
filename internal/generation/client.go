package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goinginblind/scribe/internal/pkg/metrics"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	maxErrorBody   = 512
)

// Result is a finished generation.
type Result struct {
	Text         string
	CostUnits    int64
	InputTokens  int64
	OutputTokens int64
}

// Rates converts token usage into minor currency units.
type Rates struct {
	InputPerMillion  int64
	OutputPerMillion int64
}

// Cost is ceil((in*InputPerMillion + out*OutputPerMillion) / 1e6).
// It only depends on reported usage, so the same usage always costs the same.
func (r Rates) Cost(in, out int64) int64 {
	total := in*r.InputPerMillion + out*r.OutputPerMillion
	if total <= 0 {
		return 0
	}
	return (total + 999_999) / 1_000_000
}

// KeyFunc supplies the API key at call time, it lets an administrator
// rotate the key through settings without a restart.
type KeyFunc func(ctx context.Context) (string, error)

// Config configures a Client. APIKey wins over KeyFunc when both are set.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	KeyFunc KeyFunc
	Timeout time.Duration
	Rates   Rates
}

// Client talks to an OpenAI compatible chat completions endpoint.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a new generation client.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, client: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate asks the provider for roughly wordCount words on topic.
// It makes exactly one request, bounded by the configured timeout.
// Any failure is a *GenerationError.
func (c *Client) Generate(ctx context.Context, topic string, wordCount int) (Result, error) {
	start := time.Now()
	res, err := c.generate(ctx, topic, wordCount)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	} else {
		metrics.GenerationCost.Add(float64(res.CostUnits))
	}
	metrics.GenerationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res, err
}

func (c *Client) generate(ctx context.Context, topic string, wordCount int) (Result, error) {
	key, err := c.apiKey(ctx)
	if err != nil {
		return Result{}, err
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a professional writer. Answer with the article text only, no preamble."},
			{Role: "user", Content: fmt.Sprintf("Write an article of about %d words on the following topic: %s", wordCount, topic)},
		},
		// a word is about 1.3 tokens, leave headroom for the model overshooting
		MaxTokens: wordCount * 2,
	})
	if err != nil {
		return Result{}, fail("encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fail("building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fail("timed out", err)
		}
		return Result{}, fail("request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fail("reading response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return Result{}, fail(fmt.Sprintf("provider returned %d: %s", resp.StatusCode, apiErr.Error.Message), nil)
		}
		snippet := string(respBody)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return Result{}, fail(fmt.Sprintf("provider returned %d: %s", resp.StatusCode, snippet), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fail("decoding response", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fail("response has no choices", nil)
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return Result{}, fail("response text is empty", nil)
	}
	// Cost is derived from usage alone, a missing block would bill nothing.
	if parsed.Usage == nil {
		return Result{}, fail("response has no usage", nil)
	}

	in, out := parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
	return Result{
		Text:         text,
		CostUnits:    c.cfg.Rates.Cost(in, out),
		InputTokens:  in,
		OutputTokens: out,
	}, nil
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	if c.cfg.APIKey != "" {
		return c.cfg.APIKey, nil
	}
	if c.cfg.KeyFunc != nil {
		key, err := c.cfg.KeyFunc(ctx)
		if err != nil {
			return "", fail("loading api key", err)
		}
		if key != "" {
			return key, nil
		}
	}
	return "", fail("api key is not configured", nil)
}
