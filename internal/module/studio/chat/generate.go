package chat

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Generate issues one generation call. It never retries.
func (c *Client) Generate(ctx context.Context, apiKey string, req *GenerationRequest) (*Completion, error) {
	body, err := buildGenerationBody(req)
	if err != nil {
		return nil, &CallError{Op: "build request", Err: err}
	}

	completion, err := c.complete(ctx, apiKey, body)
	if err != nil {
		c.logger.Warn("generation call failed",
			zap.String("model", req.Model),
			zap.String("aspect_ratio", req.AspectRatio),
			zap.Error(err))
		return nil, err
	}
	return completion, nil
}

// buildGenerationBody lays out the prompt text followed by one image block per reference.
// The aspect ratio goes into extra_body and is mirrored as JSON in a system message for
// servers that drop the extension.
func buildGenerationBody(req *GenerationRequest) (*chatRequest, error) {
	extra := &ExtraBody{ImageConfig: ImageConfig{AspectRatio: req.AspectRatio}}
	hint, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}

	parts := make([]ContentPart, 0, len(req.Images)+1)
	parts = append(parts, ContentPart{Type: PartText, Text: req.Prompt})
	for _, img := range req.Images {
		parts = append(parts, ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: img.String()}})
	}

	maxTokens := GenerationMaxTokens
	temperature := GenerationTemperature

	return &chatRequest{
		Model: req.Model,
		Messages: []Message{
			{Role: RoleSystem, Content: string(hint)},
			{Role: RoleUser, Content: parts},
		},
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		ExtraBody:   extra,
	}, nil
}
