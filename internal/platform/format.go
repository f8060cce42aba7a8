// ABOUTME: Markdown formatters for chat-platform message bodies
// ABOUTME: HTMLFormatter renders markdown to HTML via goldmark for Matrix-style platforms

package platform

import (
	"bytes"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Formatter renders markdown produced by the streaming engine into the body a
// platform expects. The streaming engine always works on raw markdown; only the
// final posted body goes through the formatter.
type Formatter interface {
	Format(markdown string) string
}

// PlainFormatter passes markdown through untouched, for platforms that render
// markdown natively.
type PlainFormatter struct{}

func (PlainFormatter) Format(markdown string) string { return markdown }

// HTMLFormatter converts markdown to HTML using goldmark with GitHub-flavored
// extensions. Matrix-style platforms take the result as the formatted body.
type HTMLFormatter struct {
	md     goldmark.Markdown
	logger *slog.Logger
}

// NewHTMLFormatter creates an HTMLFormatter. Pass nil logger for default.
func NewHTMLFormatter(logger *slog.Logger) *HTMLFormatter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTMLFormatter{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		logger: logger.With("component", "formatter"),
	}
}

// Format renders markdown to HTML. On conversion failure the raw markdown is
// returned so the message is never lost.
func (f *HTMLFormatter) Format(markdown string) string {
	var buf bytes.Buffer
	if err := f.md.Convert([]byte(markdown), &buf); err != nil {
		f.logger.Warn("markdown conversion failed, sending raw", "error", err)
		return markdown
	}
	return buf.String()
}
