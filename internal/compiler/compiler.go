// Package compiler maps section language tags to compilation capabilities.
//
// Every tag resolves to exactly one Compiler, which turns a section body into
// text of one output Kind. Compilers are black boxes to the rest of the
// pipeline: the Registry adds dispatch, panic isolation, a per-call timeout
// and an LRU cache of successful outputs around them.
package compiler

import "context"

// Kind is the artifact a compiler contributes to.
type Kind string

const (
	KindMarkup     Kind = "markup"
	KindStylesheet Kind = "stylesheet"
	KindScript     Kind = "script"
)

// Kinds lists the output kinds in serving order.
var Kinds = []Kind{KindMarkup, KindStylesheet, KindScript}

// Request is a single section compile.
type Request struct {
	// Tag is the normalized language tag.
	Tag string
	// Body is the raw section text.
	Body string
	// Prelude is shared scope from earlier sections with the same tag. Only
	// compilers implementing Scoper receive a non-empty prelude.
	Prelude string
	// Filename is used in compiler messages, e.g. "section-2.ts".
	Filename string
}

// Message is a compiler warning. Line is 1-based and relative to the
// section body; Column is 1-based, 0 when unknown.
type Message struct {
	Text   string `json:"text"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// Output is a successful compile.
type Output struct {
	Kind     Kind
	Text     string
	Warnings []Message
}

// Compiler compiles one section body.
type Compiler interface {
	Kind() Kind
	Compile(ctx context.Context, req Request) (Output, error)
}

// Scoper is implemented by compilers whose sections share declarations with
// later sections of the same tag. Scope must be a pure function of body so
// that a failing section still exports its declarations.
type Scoper interface {
	Scope(body string) string
}

// Func adapts a function to the Compiler interface.
type Func struct {
	OutputKind Kind
	Fn         func(ctx context.Context, req Request) (Output, error)
}

// Kind implements Compiler.
func (f Func) Kind() Kind { return f.OutputKind }

// Compile implements Compiler.
func (f Func) Compile(ctx context.Context, req Request) (Output, error) {
	out, err := f.Fn(ctx, req)
	if err != nil {
		return Output{}, err
	}
	out.Kind = f.OutputKind
	return out, nil
}
