package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageURL(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		found   bool
	}{
		{"markdown image", "![alt](https://x/y.png) trailing text", "https://x/y.png", true},
		{"bare url", "https://x/y.png extra", "https://x/y.png", true},
		{"no url", "no url here", "", false},
		{"empty", "", "", false},
		{"markdown wins over bare url", "https://a/first.png ![img](https://b/second.png)", "https://b/second.png", true},
		{"markdown inside prose", "Here you go:\n\n![generated image](https://cdn/z.jpg)\nEnjoy", "https://cdn/z.jpg", true},
		{"first markdown image only", "![a](https://a/1.png) ![b](https://b/2.png)", "https://a/1.png", true},
		{"empty alt text", "![](https://x/empty-alt.png)", "https://x/empty-alt.png", true},
		{"plain link is not an image", "see [here](https://x/y.png)", "", false},
		{"leading whitespace blocks bare url", "  https://x/y.png", "", false},
		{"bare url with newline", "https://x/y.png\nmore", "https://x/y.png", true},
		{"error text passes through", "Error 429: quota", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ImageURL(tt.content)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
