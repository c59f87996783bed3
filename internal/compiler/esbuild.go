package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/breach/internal/errors"
)

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"esnext": api.ESNext,
}

// ParseTarget resolves a script target name such as "es2020".
func ParseTarget(name string) (api.Target, error) {
	t, ok := targets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown script target %q", name)
	}
	return t, nil
}

// cssEngines is the browser baseline stylesheets are lowered to. Chrome 100
// predates native CSS nesting, so nested rules are always flattened.
var cssEngines = []api.Engine{{Name: api.EngineChrome, Version: "100"}}

// Script transpiles TypeScript, TSX and JSX sections with esbuild.
type Script struct {
	loader api.Loader
	ext    string
	target api.Target
	minify bool
}

// NewScript creates a script compiler for the given esbuild loader.
func NewScript(loader api.Loader, ext string, opts Options) (*Script, error) {
	target, err := ParseTarget(opts.targetName())
	if err != nil {
		return nil, err
	}
	return &Script{loader: loader, ext: ext, target: target, minify: opts.Minify}, nil
}

// Kind implements Compiler.
func (s *Script) Kind() Kind { return KindScript }

// Compile implements Compiler.
func (s *Script) Compile(_ context.Context, req Request) (Output, error) {
	result := api.Transform(req.Body, api.TransformOptions{
		Loader:            s.loader,
		Target:            s.target,
		Sourcefile:        filename(req, s.ext),
		LogLevel:          api.LogLevelSilent,
		MinifyWhitespace:  s.minify,
		MinifySyntax:      s.minify,
		MinifyIdentifiers: s.minify,
	})
	if len(result.Errors) > 0 {
		return Output{}, compileErrorFrom(result.Errors)
	}

	return Output{
		Kind:     KindScript,
		Text:     string(result.Code),
		Warnings: messagesFrom(result.Warnings),
	}, nil
}

// transformCSS runs plain CSS through esbuild, lowering nesting and other
// syntax newer than cssEngines.
func transformCSS(css, sourcefile string, minify bool) (string, []Message, error) {
	result := api.Transform(css, api.TransformOptions{
		Loader:           api.LoaderCSS,
		Engines:          cssEngines,
		Sourcefile:       sourcefile,
		LogLevel:         api.LogLevelSilent,
		MinifyWhitespace: minify,
		MinifySyntax:     minify,
	})
	if len(result.Errors) > 0 {
		return "", nil, compileErrorFrom(result.Errors)
	}

	// esbuild recovers from CSS syntax errors and reports them as warnings.
	var syntax, advisory []api.Message
	for _, w := range result.Warnings {
		if isCSSSyntaxError(w) {
			syntax = append(syntax, w)
		} else {
			advisory = append(advisory, w)
		}
	}
	if len(syntax) > 0 {
		return "", nil, compileErrorFrom(syntax)
	}
	return string(result.Code), messagesFrom(advisory), nil
}

func isCSSSyntaxError(m api.Message) bool {
	return m.ID == "css-syntax-error" ||
		strings.HasPrefix(m.Text, "Expected ") ||
		strings.HasPrefix(m.Text, "Unexpected ")
}

func filename(req Request, ext string) string {
	if req.Filename != "" {
		return req.Filename
	}
	return "section." + ext
}

func compileErrorFrom(msgs []api.Message) error {
	first := msgs[0]
	text := first.Text
	if len(msgs) > 1 {
		text += fmt.Sprintf(" (and %d more)", len(msgs)-1)
	}

	err := errors.NewCompileError(text, nil)
	if first.Location != nil {
		err.WithLocation(first.Location.Line, first.Location.Column+1)
	}
	return err
}

func messagesFrom(msgs []api.Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg := Message{Text: m.Text}
		if m.Location != nil {
			msg.Line = m.Location.Line
			msg.Column = m.Location.Column + 1
		}
		out = append(out, msg)
	}
	return out
}
