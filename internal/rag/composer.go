package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"document-qa/internal/memory"
	"document-qa/internal/models"
)

const defaultTopK = 3

// Retriever ranks stored chunks against a query.
type Retriever interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]models.SearchResult, error)
}

// Completer sends a conversation to a language model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

// modeHandler renders the mode specific part of the prompt.
type modeHandler func(ctx context.Context, question string) (string, error)

// Composer answers questions, optionally grounded on retrieved chunks, and
// records every exchange in the session's conversation.
type Composer struct {
	retriever Retriever
	completer Completer
	sessions  *memory.Registry
	topK      int
	handlers  map[models.Mode]modeHandler
}

type ComposerOption func(*Composer)

func WithTopK(k int) ComposerOption {
	return func(c *Composer) {
		if k > 0 {
			c.topK = k
		}
	}
}

func NewComposer(retriever Retriever, completer Completer, sessions *memory.Registry, opts ...ComposerOption) *Composer {
	c := &Composer{
		retriever: retriever,
		completer: completer,
		sessions:  sessions,
		topK:      defaultTopK,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handlers = map[models.Mode]modeHandler{
		models.ModeDocument: c.documentPrompt,
		models.ModeGeneral:  c.generalPrompt,
	}
	return c
}

// Answer appends the question to the session's conversation, asks the model
// and appends its reply. When the completion fails or ctx is cancelled the
// user turn stays but no assistant turn is recorded.
func (c *Composer) Answer(ctx context.Context, sessionID, question string, mode models.Mode) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", models.ErrEmptyQuestion
	}
	handler, ok := c.handlers[mode]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidMode, mode)
	}

	conv := c.sessions.Get(sessionID)
	conv.Append(models.Turn{Role: models.RoleUser, Content: question})

	body, err := handler(ctx, question)
	if err != nil {
		return "", err
	}
	prompt := renderHistory(conv.RecentWindow()) + body

	logger := log.Ctx(ctx)
	logger.Debug().Str("mode", string(mode)).Int("prompt_len", len(prompt)).Msg("Sending prompt")

	answer, err := c.completer.Complete(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}})
	if err != nil {
		logger.Error().Err(err).Str("mode", string(mode)).Msg("Error completing prompt")
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	conv.Append(models.Turn{Role: models.RoleAssistant, Content: answer})
	return answer, nil
}

func (c *Composer) documentPrompt(ctx context.Context, question string) (string, error) {
	results, err := c.retriever.SimilaritySearch(ctx, question, c.topK)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve context: %w", err)
	}
	log.Ctx(ctx).Debug().Int("results", len(results)).Msg("Retrieved context")

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Chunk.Content)
	}
	return fmt.Sprintf(models.DocumentPromptTemplate, models.NotInDocumentAnswer, strings.Join(parts, "\n"), question), nil
}

func (c *Composer) generalPrompt(_ context.Context, question string) (string, error) {
	return fmt.Sprintf(models.GeneralPromptTemplate, question), nil
}

// renderHistory formats turns as "Role: content" lines under a header, or
// returns "" when there are none.
func renderHistory(turns []models.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(models.HistoryHeader)
	for _, t := range turns {
		b.WriteString(t.Role.Label())
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
