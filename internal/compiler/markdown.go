package compiler

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/conneroisu/breach/internal/errors"
)

// Markdown compiles CommonMark with GitHub extensions into markup. Raw HTML in
// the source is kept.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates the markdown compiler.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Kind implements Compiler.
func (m *Markdown) Kind() Kind { return KindMarkup }

// Compile implements Compiler.
func (m *Markdown) Compile(_ context.Context, req Request) (Output, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(req.Body), &buf); err != nil {
		return Output{}, errors.NewCompileError("markdown conversion failed", err)
	}
	return Output{Kind: KindMarkup, Text: buf.String()}, nil
}
