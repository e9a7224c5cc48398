package util

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		// Raw HTML in the source is omitted from the output.
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		)
	})
	return markdownInstance
}

// RenderMarkdown converts a local post's markdown source into the HTML
// carried in an object's content field.
func RenderMarkdown(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
