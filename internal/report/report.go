// Package report renders finalized agent output into the reply's text and
// HTML bodies. The formatter is a pure function over the markdown the agent
// produced; no request state is involved.
package report

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Formatter renders markdown into the two delivery bodies.
type Formatter interface {
	// Format returns (text, html). text is the markdown as-is; html is the
	// rendered document.
	Format(markdown string) (string, string, error)
}

// Goldmark is the default Formatter. A single configured instance is reused
// across all requests.
type Goldmark struct {
	md goldmark.Markdown
}

// NewGoldmark builds the default formatter with GFM tables and autolinks,
// which the models emit freely in references sections.
func NewGoldmark() *Goldmark {
	return &Goldmark{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Linkify, extension.Strikethrough),
		),
	}
}

// Format converts markdown to HTML. The text body keeps the raw markdown:
// it reads fine in plain-text clients and preserves reference numbering.
func (g *Goldmark) Format(markdown string) (string, string, error) {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(markdown), &buf); err != nil {
		return markdown, "", err
	}
	return markdown, buf.String(), nil
}
