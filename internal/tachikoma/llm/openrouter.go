package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bdobrica/Tachikoma/common/retry"
)

const defaultOpenRouterBase = "https://openrouter.ai/api/v1"

// defaultStop cuts the model off as soon as it starts a new transcript line:
// every line in the prompt opens with a "[20xx-…]" timestamp, so this stop
// sequence prevents the model from ventriloquizing other speakers.
var defaultStop = []string{"[20"}

// OpenRouterConfig configures the OpenRouter adapter.
type OpenRouterConfig struct {
	// APIKey is the bearer token for the API.
	APIKey string
	// BaseURL overrides the API endpoint (useful for any OpenAI-compatible
	// server). Defaults to the OpenRouter API.
	BaseURL string
	// Referer and Title are OpenRouter's attribution headers.
	Referer string
	Title   string
	// Timeout for each HTTP request. Defaults to 60s.
	Timeout time.Duration
	// MaxTokens caps reply length when CompletionRequest.MaxTokens is zero.
	MaxTokens int
	// Temperature for sampling. Zero uses defaultTemperature.
	Temperature float64
	// Retry controls transient-failure retries. Zero value uses
	// retry.DefaultPolicy.
	Retry retry.Policy
}

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 250
	repetitionPenalty  = 1.5
)

type openRouterProvider struct {
	cfg    OpenRouterConfig
	client *http.Client
}

// NewOpenRouter returns a Provider backed by the OpenRouter chat completions
// API (or any OpenAI-compatible endpoint via BaseURL).
func NewOpenRouter(cfg OpenRouterConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	return &openRouterProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types (subset of the OpenAI-compatible API) ---

type orRequest struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	Temperature       float64   `json:"temperature,omitempty"`
	MaxTokens         int       `json:"max_tokens,omitempty"`
	Stop              []string  `json:"stop,omitempty"`
	RepetitionPenalty float64   `json:"repetition_penalty,omitempty"`
}

type orResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends a chat completion request, retrying transient transport
// failures (network errors and 5xx) with exponential backoff. 4xx responses
// are never retried; 429 maps to ErrRateLimit.
func (p *openRouterProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	body := orRequest{
		Model:             req.Model,
		Messages:          req.Messages,
		Temperature:       p.cfg.Temperature,
		MaxTokens:         maxTokens,
		Stop:              defaultStop,
		RepetitionPenalty: repetitionPenalty,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp *CompletionResponse
	err = retry.Do(ctx, p.cfg.Retry, func() error {
		var attemptErr error
		resp, attemptErr = p.once(ctx, data)
		return attemptErr
	}, isTransient)
	return resp, err
}

func (p *openRouterProvider) once(ctx context.Context, data []byte) (*CompletionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", p.cfg.Referer)
	}
	if p.cfg.Title != "" {
		httpReq.Header.Set("X-Title", p.cfg.Title)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimit
	}
	if httpResp.StatusCode >= 500 {
		return nil, &statusError{code: httpResp.StatusCode}
	}

	var orResp orResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", httpResp.StatusCode, err)
	}
	if orResp.Error != nil {
		return nil, fmt.Errorf("openrouter error %d: %s", orResp.Error.Code, orResp.Error.Message)
	}
	if len(orResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response (status %d)", httpResp.StatusCode)
	}

	return &CompletionResponse{
		Text: orResp.Choices[0].Message.Content,
		Usage: TokenUsage{
			PromptTokens:     orResp.Usage.PromptTokens,
			CompletionTokens: orResp.Usage.CompletionTokens,
			TotalTokens:      orResp.Usage.TotalTokens,
		},
	}, nil
}

// statusError marks a retryable upstream server failure.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.code)
}

// isTransient reports whether an attempt error is worth retrying: server-side
// 5xx responses and transport-level request failures. Rate limits and
// protocol errors are terminal.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
