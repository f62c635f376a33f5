package qa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// ChatRequest is one prompt for the language model. Images are data URLs.
type ChatRequest struct {
	System string
	User   string
	Images []string
}

// ChatModel answers prompts.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// OpenAIConfig configures an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxRetries  int
}

// OpenAIChat talks to any OpenAI-compatible chat completions API.
type OpenAIChat struct {
	logger zerolog.Logger
	client openai.Client
	cfg    OpenAIConfig
	// first retry delay
	retryWait time.Duration
}

func NewOpenAIChat(logger zerolog.Logger, cfg OpenAIConfig) (*OpenAIChat, error) {
	if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("no API key set; use qa.api_key or OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		return nil, errors.New("no chat model configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIChat{
		logger:    logger.With().Str("component", "chat").Str("model", cfg.Model).Logger(),
		client:    openai.NewClient(opts...),
		cfg:       cfg,
		retryWait: time.Second,
	}, nil
}

// Complete sends the prompt, retrying transient failures with exponential
// backoff.
func (c *OpenAIChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			userMessage(req),
		},
		Model:       c.cfg.Model,
		Temperature: openai.Float(c.cfg.Temperature),
	}

	var answer string
	attempt := 0
	call := func() error {
		attempt++
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("chat completion failed, retrying")
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("model returned no choices"))
		}
		answer = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryWait
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	err := backoff.Retry(call, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(c.cfg.MaxRetries, 0))), ctx))
	if err != nil {
		return "", fmt.Errorf("chat completion failed after %d attempts: %w", attempt, err)
	}
	if answer == "" {
		return "", errors.New("model returned an empty answer")
	}
	return answer, nil
}

func userMessage(req ChatRequest) openai.ChatCompletionMessageParamUnion {
	if len(req.Images) == 0 {
		return openai.UserMessage(req.User)
	}
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.User)}
	for _, url := range req.Images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: url,
		}))
	}
	return openai.UserMessage(parts)
}

// retryable reports whether an API error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
