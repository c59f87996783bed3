package compiler

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/breach/internal/errors"
)

// SCSS compiles the variable-and-nesting subset of SCSS: "$name: value;"
// declarations with "!default", "$name" and "#{$name}" references, "//"
// line comments and nested rules. Mixins, control flow and modules are
// rejected with a CompileError. The substituted stylesheet is lowered to
// plain CSS by esbuild.
type SCSS struct {
	minify bool
}

// NewSCSS creates the SCSS compiler.
func NewSCSS(opts Options) *SCSS {
	return &SCSS{minify: opts.Minify}
}

var (
	declPattern        = regexp.MustCompile(`^\s*\$([A-Za-z_][\w-]*)\s*:\s*([\s\S]*?)\s*(!default)?\s*$`)
	refPattern         = regexp.MustCompile(`#\{\s*\$([A-Za-z_][\w-]*)\s*\}|\$([A-Za-z_][\w-]*)`)
	interpPattern      = regexp.MustCompile(`#\{\s*\$([A-Za-z_][\w-]*)\s*\}`)
	unsupportedPattern = regexp.MustCompile(`@(mixin|include|extend|use|forward|function|return|if|else|each|for|while)\b`)
)

// Kind implements Compiler.
func (s *SCSS) Kind() Kind { return KindStylesheet }

// Scope implements Scoper. It returns the variable declarations of body.
func (s *SCSS) Scope(body string) string {
	src := stripLineComments(body)
	var decls []string
	for _, st := range splitStatements(src) {
		text := strings.TrimSpace(st.text(src))
		if st.term != '{' && declPattern.MatchString(text) {
			decls = append(decls, text+";")
		}
	}
	return strings.Join(decls, "\n")
}

// Compile implements Compiler.
func (s *SCSS) Compile(_ context.Context, req Request) (Output, error) {
	vars := make(map[string]string)

	// Prelude declarations come from other sections; a bad one there is that
	// section's problem, not this one's.
	for _, st := range splitStatements(req.Prelude) {
		_, _, _ = declare(vars, st.text(req.Prelude))
	}

	src := stripLineComments(req.Body)
	if err := checkBraces(src); err != nil {
		return Output{}, err
	}
	if loc := unsupportedPattern.FindStringIndex(src); loc != nil {
		line, col := position(src, loc[0])
		return Output{}, errors.NewCompileError(
			fmt.Sprintf("unsupported SCSS feature %s", src[loc[0]:loc[1]]), nil).
			WithLocation(line, col)
	}

	var b strings.Builder
	b.Grow(len(src))
	for _, st := range splitStatements(src) {
		text := st.text(src)

		if st.term != '{' {
			matched, missing, at := declare(vars, text)
			if missing != "" {
				return Output{}, undefinedVariable(src, st.start+at, missing)
			}
			if matched {
				b.WriteString(blank(text))
				switch st.term {
				case ';':
					b.WriteByte(' ')
				case '}':
					b.WriteByte('}')
				}
				continue
			}
		}

		expanded, missing, at := substitute(vars, text)
		if missing != "" {
			return Output{}, undefinedVariable(src, st.start+at, missing)
		}
		b.WriteString(expanded)
		if st.term != 0 {
			b.WriteByte(st.term)
		}
	}

	plain := b.String()
	if err := checkStatements(plain); err != nil {
		return Output{}, err
	}

	css, warnings, err := transformCSS(plain, filename(req, "scss"), s.minify)
	if err != nil {
		return Output{}, err
	}

	return Output{Kind: KindStylesheet, Text: css, Warnings: warnings}, nil
}

func undefinedVariable(src string, offset int, name string) *errors.BreachError {
	line, col := position(src, offset)
	return errors.NewCompileError(fmt.Sprintf("undefined variable $%s", name), nil).WithLocation(line, col)
}

// declare records the variable declaration in stmt, if it is one. When the
// value references an unknown variable, missing names it and at is its
// offset in stmt.
func declare(vars map[string]string, stmt string) (matched bool, missing string, at int) {
	m := declPattern.FindStringSubmatchIndex(stmt)
	if m == nil {
		return false, "", 0
	}
	name, value, isDefault := stmt[m[2]:m[3]], stmt[m[4]:m[5]], m[6] >= 0

	if _, exists := vars[name]; exists && isDefault {
		return true, "", 0
	}

	expanded, missing, at := substitute(vars, value)
	if missing != "" {
		return true, missing, m[4] + at
	}
	vars[name] = expanded
	return true, "", 0
}

// substitute replaces variable references in s. Quoted strings only expand
// "#{$name}" interpolation and block comments are left alone. The first
// unknown variable is reported with its offset in s.
func substitute(vars map[string]string, s string) (out, missing string, at int) {
	var b strings.Builder

	replace := func(chunk string, offset int, pattern *regexp.Regexp) {
		last := 0
		for _, m := range pattern.FindAllStringSubmatchIndex(chunk, -1) {
			name := firstGroup(chunk, m)
			b.WriteString(chunk[last:m[0]])
			if value, ok := vars[name]; ok {
				b.WriteString(value)
			} else {
				if missing == "" {
					missing, at = name, offset+m[0]
				}
				b.WriteString(chunk[m[0]:m[1]])
			}
			last = m[1]
		}
		b.WriteString(chunk[last:])
	}

	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			replace(s[start:i], start, refPattern)
			j := i + 1
			for j < len(s) && s[j] != c && s[j] != '\n' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(s) && s[j] == c {
				j++
			}
			j = min(j, len(s))
			replace(s[i:j], i, interpPattern)
			start, i = j, j-1
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			replace(s[start:i], start, refPattern)
			j := strings.Index(s[i+2:], "*/")
			if j < 0 {
				j = len(s)
			} else {
				j += i + 4
			}
			b.WriteString(s[i:j])
			start, i = j, j-1
		}
	}
	replace(s[start:], start, refPattern)

	return b.String(), missing, at
}

func firstGroup(s string, m []int) string {
	for g := 2; g+1 < len(m); g += 2 {
		if m[g] >= 0 {
			return s[m[g]:m[g+1]]
		}
	}
	return ""
}

// statement is a run of source text ending at a top-level ";", "{" or "}"
// (term), or at the end of input (term 0).
type statement struct {
	start, end int
	term       byte
}

func (st statement) text(src string) string { return src[st.start:st.end] }

// splitStatements cuts src at ";", "{" and "}" outside strings, block
// comments, parentheses and "#{...}" interpolation. Every byte of src
// belongs to exactly one statement or terminator.
func splitStatements(src string) []statement {
	var (
		out     []statement
		quote   byte
		parens  int
		inBlock bool
		start   int
	)

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inBlock:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				inBlock = false
				i++
			}
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote || c == '\n' {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			inBlock = true
			i++
		case c == '#' && i+1 < len(src) && src[i+1] == '{':
			if end := strings.IndexByte(src[i:], '}'); end >= 0 {
				i += end
			}
		case c == '(':
			parens++
		case c == ')' && parens > 0:
			parens--
		case parens == 0 && (c == ';' || c == '{' || c == '}'):
			out = append(out, statement{start: start, end: i, term: c})
			start = i + 1
		}
	}
	if start < len(src) {
		out = append(out, statement{start: start, end: len(src)})
	}
	return out
}

// checkStatements reports declarations that are missing a property name,
// a colon or a value, and rule preludes starting with a stray "@". Input is
// plain CSS after variable substitution.
func checkStatements(css string) *errors.BreachError {
	for _, st := range splitStatements(css) {
		text := blankComments(st.text(css))
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		offset := st.start + len(text) - len(strings.TrimLeft(text, " \t\r\n"))
		fail := func(msg string) *errors.BreachError {
			line, col := position(css, offset)
			return errors.NewCompileError(msg, nil).WithLocation(line, col)
		}

		if trimmed[0] == '@' {
			if len(trimmed) == 1 || !isIdentStart(trimmed[1]) {
				return fail(`unexpected "@"`)
			}
			continue
		}
		if st.term == '{' {
			continue
		}

		colon := strings.IndexByte(trimmed, ':')
		switch {
		case colon < 0:
			return fail(fmt.Sprintf(`expected ":" in declaration %q`, firstWords(trimmed)))
		case strings.TrimSpace(trimmed[:colon]) == "":
			return fail("declaration is missing a property name")
		case strings.TrimSpace(trimmed[colon+1:]) == "" && !strings.HasPrefix(trimmed, "--"):
			return fail(fmt.Sprintf("missing value for %q", strings.TrimSpace(trimmed[:colon])))
		}
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func firstWords(s string) string {
	const limit = 40
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// blank replaces everything but newlines with spaces.
func blank(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		return ' '
	}, s)
}

// blankComments blanks block comments, keeping offsets.
func blankComments(s string) string {
	for {
		i := strings.Index(s, "/*")
		if i < 0 {
			return s
		}
		j := strings.Index(s[i+2:], "*/")
		if j < 0 {
			return s[:i] + blank(s[i:])
		}
		j += i + 4
		s = s[:i] + blank(s[i:j]) + s[j:]
	}
}

// position converts a byte offset into a 1-based line and column.
func position(src string, offset int) (line, col int) {
	offset = min(offset, len(src))
	line = strings.Count(src[:offset], "\n") + 1
	col = offset - strings.LastIndexByte(src[:offset], '\n')
	return line, col
}

// stripLineComments blanks "//" comments outside strings, block comments and
// parentheses, keeping line structure intact.
func stripLineComments(src string) string {
	var (
		b       strings.Builder
		quote   byte
		parens  int
		inBlock bool
	)
	b.Grow(len(src))

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inBlock:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				inBlock = false
				b.WriteString("*/")
				i++
				continue
			}
		case quote != 0:
			if c == '\\' && i+1 < len(src) {
				b.WriteByte(c)
				b.WriteByte(src[i+1])
				i++
				continue
			}
			if c == quote || c == '\n' {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			parens++
		case c == ')' && parens > 0:
			parens--
		case c == '\n':
			parens = 0
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			inBlock = true
			b.WriteString("/*")
			i++
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '/' && parens == 0:
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}

	return b.String()
}

// checkBraces reports the first unbalanced brace outside strings and block
// comments.
func checkBraces(src string) *errors.BreachError {
	type open struct{ line, col int }

	var (
		stack   []open
		quote   byte
		inBlock bool
		line    = 1
		col     = 0
	)

	for i := 0; i < len(src); i++ {
		c := src[i]
		col++
		if c == '\n' {
			line++
			col = 0
			if quote != 0 {
				quote = 0
			}
			continue
		}

		switch {
		case inBlock:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				inBlock = false
				i++
				col++
			}
		case quote != 0:
			if c == '\\' {
				i++
				col++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			inBlock = true
			i++
			col++
		case c == '{':
			stack = append(stack, open{line, col})
		case c == '}':
			if len(stack) == 0 {
				return errors.NewCompileError("unexpected \"}\"", nil).WithLocation(line, col)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		last := stack[len(stack)-1]
		return errors.NewCompileError("unclosed block", nil).WithLocation(last.line, last.col)
	}
	return nil
}
