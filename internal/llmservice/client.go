package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// NewModel creates the langchaingo chat model for the configured provider
func NewModel(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": llmConfig.Provider,
		"base_url": llmConfig.BaseURL,
		"model":    llmConfig.Model,
	}).Msg("Creating completion model")

	switch llmConfig.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return llm, nil
	case config.ProviderOpenAI:
		llm, err := openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", models.ErrConfiguration, llmConfig.Provider)
	}
}

// Client sends single-shot, non-streamed completion requests.
type Client struct {
	model     llms.Model
	timeout   time.Duration
	retryOpts []retry.Option
}

func NewClient(model llms.Model, timeout time.Duration, retryOpts ...retry.Option) *Client {
	if len(retryOpts) == 0 {
		retryOpts = []retry.Option{retry.Attempts(1)}
	}
	return &Client{model: model, timeout: timeout, retryOpts: retryOpts}
}

// Complete returns the text of the first choice, or "" when the model returned
// none. Provider errors, timeouts included, wrap models.ErrCompletionFailure.
func (c *Client) Complete(ctx context.Context, messages []models.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatRole(m.Role), m.Content))
	}

	opts := append([]retry.Option{retry.Context(ctx), retry.LastErrorOnly(true)}, c.retryOpts...)
	res, err := retry.DoWithData(func() (*llms.ContentResponse, error) {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		return c.model.GenerateContent(callCtx, content)
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrCompletionFailure, err)
	}

	if res == nil || len(res.Choices) == 0 || res.Choices[0] == nil {
		log.Ctx(ctx).Warn().Msg("Completion returned no choices")
		return "", nil
	}
	return res.Choices[0].Content, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func chatRole(r models.Role) schema.ChatMessageType {
	switch r {
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem
	case models.RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
