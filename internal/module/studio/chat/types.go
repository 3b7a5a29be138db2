package chat

import (
	"encoding/json"
	"strings"

	"github.com/wuhu/studio/internal/module/studio/imageproc"
)

// Fixed sampling parameters for generation calls.
const (
	GenerationMaxTokens   = 300
	GenerationTemperature = 0.7
)

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Content part types.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// GenerationRequest is the immutable input of one generation call.
type GenerationRequest struct {
	Prompt      string
	Images      []imageproc.EncodedImage
	Model       string
	AspectRatio string
}

// NewGenerationRequest builds a request, copying the image list so later edits by the
// caller cannot leak into it.
func NewGenerationRequest(prompt string, images []imageproc.EncodedImage, model, aspectRatio string) *GenerationRequest {
	imgs := make([]imageproc.EncodedImage, len(images))
	copy(imgs, images)
	return &GenerationRequest{
		Prompt:      prompt,
		Images:      imgs,
		Model:       model,
		AspectRatio: aspectRatio,
	}
}

// Completion is the successful reply of the remote endpoint.
type Completion struct {
	StatusCode int
	Body       []byte
	Content    string
}

// Message is one chat message. Content is a string or a []ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one block of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ImageConfig carries the generation settings understood by the image models.
type ImageConfig struct {
	AspectRatio string `json:"aspectRatio"`
}

// ExtraBody is the vendor extension of the request body.
type ExtraBody struct {
	ImageConfig ImageConfig `json:"imageConfig"`
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	ExtraBody   *ExtraBody `json:"extra_body,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// firstContent returns the first choice's content as text. Part arrays are flattened:
// text parts verbatim, image parts as markdown images.
func (r *chatResponse) firstContent() string {
	if len(r.Choices) == 0 {
		return ""
	}
	raw := r.Choices[0].Message.Content
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Type == PartText && p.Text != "":
			lines = append(lines, p.Text)
		case p.Type == PartImageURL && p.ImageURL != nil && p.ImageURL.URL != "":
			lines = append(lines, "![image]("+p.ImageURL.URL+")")
		}
	}
	return strings.Join(lines, "\n")
}
