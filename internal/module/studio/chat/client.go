package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/shared/config"
	"github.com/wuhu/studio/internal/utils/metrics"
	"github.com/wuhu/studio/internal/utils/requestctx"
)

const (
	completionsPath = "/v1/chat/completions"
	modelsPath      = "/v1/models"

	// errorExcerptLen caps the response body quoted in a StatusError.
	errorExcerptLen = 100
)

// StatusError is a non-200 reply of the remote endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Error %d: %s", e.StatusCode, truncate(e.Body, errorExcerptLen))
}

// CallError is a failure to complete the HTTP exchange or to read its reply.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("Exception: %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Config describes the remote endpoint.
type Config struct {
	BaseURL          string
	TranslationModel string
	TranslationMode  string
}

// Client talks to the chat-completion endpoint shared by translation and generation.
type Client struct {
	httpClient        *http.Client
	baseURL           string
	translationModel  string
	translationPrompt string
	logger            *zap.Logger
	metrics           *metrics.Metrics
}

// NewClient creates a chat client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, cfg *Config, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	prompt, err := translationInstruction(cfg.TranslationMode)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.TranslationModel
	if model == "" {
		model = DefaultTranslationModel
	}

	return &Client{
		httpClient:        httpClient,
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		translationModel:  model,
		translationPrompt: prompt,
		logger:            logger,
		metrics:           m,
	}, nil
}

// ConfigFrom maps the remote section of the application config.
func ConfigFrom(rc config.RemoteConfig) *Config {
	return &Config{
		BaseURL:          rc.BaseURL,
		TranslationModel: rc.TranslationModel,
		TranslationMode:  rc.TranslationMode,
	}
}

// BaseURL returns the endpoint root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// complete posts one chat-completion request. Non-200 replies come back as *StatusError and
// transport or decode failures as *CallError.
func (c *Client) complete(ctx context.Context, apiKey string, body *chatRequest) (*Completion, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &CallError{Op: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if id := requestctx.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{Op: "execute request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Op: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &CallError{Op: "decode response", Err: err}
	}

	return &Completion{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Content:    parsed.firstContent(),
	}, nil
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
