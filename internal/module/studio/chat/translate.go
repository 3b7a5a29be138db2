package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/shared/config"
)

// DefaultTranslationModel is used when no translation model is configured.
const DefaultTranslationModel = "gemini-2.5-flash"

// ErrEmptyTranslation is returned when the endpoint answers without text.
var ErrEmptyTranslation = errors.New("translation returned no text")

const (
	literalInstruction = "You are a professional translator. Translate the following text into English " +
		"literally and faithfully. Do not expand, embellish, or add any details that are not in the source. " +
		"Only output the translated English text, no explanations."

	expandInstruction = "You are a professional prompt engineer translator. Translate the following Chinese text " +
		"into detailed English image generation prompts. Only output the translated English text, no explanations."
)

func translationInstruction(mode string) (string, error) {
	switch mode {
	case "", config.TranslationModeLiteral:
		return literalInstruction, nil
	case config.TranslationModeExpand:
		return expandInstruction, nil
	default:
		return "", fmt.Errorf("unknown translation mode %q", mode)
	}
}

// Translate turns source text into English with one chat-completion call.
func (c *Client) Translate(ctx context.Context, apiKey, text string) (string, error) {
	body := &chatRequest{
		Model: c.translationModel,
		Messages: []Message{
			{Role: RoleSystem, Content: c.translationPrompt},
			{Role: RoleUser, Content: text},
		},
	}

	completion, err := c.complete(ctx, apiKey, body)
	if err != nil {
		c.metrics.RecordTranslation(false)
		c.logger.Warn("translation failed",
			zap.String("model", c.translationModel),
			zap.Error(err))
		return "", err
	}

	translated := strings.TrimSpace(completion.Content)
	if translated == "" {
		c.metrics.RecordTranslation(false)
		return "", ErrEmptyTranslation
	}

	c.metrics.RecordTranslation(true)
	c.logger.Debug("translation completed",
		zap.Int("source_len", len(text)),
		zap.Int("result_len", len(translated)))
	return translated, nil
}
