package ai

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

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"go.uber.org/zap"
)

const (
	opComplete = "ai.complete"

	reasonNotConfigured  = "not_configured"
	reasonEmptyPrompt    = "empty_prompt"
	reasonEncodeFailed   = "encode_failed"
	reasonRequestFailed  = "request_failed"
	reasonUpstreamStatus = "upstream_status"
	reasonDecodeFailed   = "decode_failed"
	reasonEmptyChoices   = "empty_choices"
	reasonTooLarge       = "response_too_large"

	completionsPath    = "/chat/completions"
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultTimeout     = 30 * time.Second
	defaultMaxTokens   = 500
	maxErrorBodyLength = 512

	defaultMaxResponseBytes = 4 << 20
)

var errMissingAPIKey = errors.New("ai: api key is not configured")

// Prompt is a single system+user exchange.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Config describes the upstream chat-completions endpoint.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	// MaxResponseBytes bounds the upstream body; zero selects 4 MiB.
	MaxResponseBytes int64
	HTTPClient       *http.Client
	Logger           *zap.Logger
}

// Client talks to an OpenAI-compatible chat-completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxBytes   int64
	httpClient *http.Client
	logger     *zap.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// NewClient applies defaults to cfg. A client without an API key is valid;
// its calls fail with apperr.ErrUnavailable.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      model,
		maxBytes:   maxBytes,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Complete sends prompt and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if !c.Configured() {
		return "", apperr.New(opComplete, reasonNotConfigured, apperr.ErrUnavailable, errMissingAPIKey)
	}
	if strings.TrimSpace(prompt.User) == "" {
		return "", apperr.New(opComplete, reasonEmptyPrompt, apperr.ErrValidation, nil)
	}
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]message, 0, 2)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, message{Role: "system", Content: prompt.System})
	}
	messages = append(messages, message{Role: "user", Content: prompt.User})
	payload, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: prompt.Temperature,
	})
	if err != nil {
		return "", apperr.New(opComplete, reasonEncodeFailed, nil, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return "", apperr.New(opComplete, reasonEncodeFailed, nil, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("ai request failed", zap.String("operation", opComplete), zap.Error(err))
		return "", apperr.New(opComplete, reasonRequestFailed, apperr.ErrUpstream, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, c.maxBytes+1))
	if err != nil {
		return "", apperr.New(opComplete, reasonRequestFailed, apperr.ErrUpstream, err)
	}
	if int64(len(body)) > c.maxBytes {
		c.logger.Warn("ai response exceeds limit",
			zap.String("operation", opComplete),
			zap.Int64("limit_bytes", c.maxBytes))
		return "", apperr.New(opComplete, reasonTooLarge, apperr.ErrUpstream, nil)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		statusErr := fmt.Errorf("ai: upstream status %d: %s", response.StatusCode, truncate(string(body), maxErrorBodyLength))
		c.logger.Warn("ai upstream rejected request",
			zap.String("operation", opComplete),
			zap.Int("status", response.StatusCode))
		return "", apperr.New(opComplete, reasonUpstreamStatus, apperr.ErrUpstream, statusErr)
	}

	var decoded completionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", apperr.New(opComplete, reasonDecodeFailed, apperr.ErrUpstream, err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", apperr.New(opComplete, reasonEmptyChoices, apperr.ErrUpstream, nil)
	}
	return decoded.Choices[0].Message.Content, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
