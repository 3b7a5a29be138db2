// Package extract recovers an image URL from free-form model output.
package extract

import (
	"regexp"
	"strings"
)

var markdownImage = regexp.MustCompile(`!\[.*?\]\((.*?)\)`)

// ImageURL returns the image URL carried by content. A markdown image takes precedence over a
// bare leading URL; anything else yields false.
func ImageURL(content string) (string, bool) {
	if m := markdownImage.FindStringSubmatch(content); m != nil {
		return m[1], true
	}
	if strings.HasPrefix(content, "http") {
		if fields := strings.Fields(content); len(fields) > 0 {
			return fields[0], true
		}
	}
	return "", false
}
