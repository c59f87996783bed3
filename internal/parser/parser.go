// Package parser splits the text of a single breach source file into an
// ordered sequence of language-tagged sections.
//
// A section starts at a line whose first non-blank character is the
// delimiter marker "¦" followed immediately by a language tag:
//
//	¦html
//	<p>Hi</p>
//	¦scss
//	body { color: red; }
//
// The ASCII "|" is accepted as an alternative marker when the rest of the
// line is exactly one tag, so that table rows and "||" inside bodies stay
// body text. Parsing is pure: the same input always yields the same result.
package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/conneroisu/breach/internal/errors"
)

const (
	// Marker is the primary delimiter marker.
	Marker = "\u00a6"
	// AltMarker is the ASCII alternative, accepted only on tag-only lines.
	AltMarker = "|"
)

var aliases = map[string]string{
	"typescript": "ts",
	"javascript": "js",
	"markdown":   "md",
	"htm":        "html",
}

// Span locates a section in the source file. Lines are 1-based; EndLine is
// inclusive and equals MarkerLine when the body is empty.
type Span struct {
	MarkerLine int `json:"marker_line"`
	StartLine  int `json:"start_line"`
	EndLine    int `json:"end_line"`
}

// Section is one delimiter-bounded block. Sections are never mutated after
// Parse returns them.
type Section struct {
	Tag     string `json:"tag"`
	RawTag  string `json:"raw_tag"`
	Ordinal int    `json:"ordinal"`
	Body    string `json:"body"`
	Span    Span   `json:"span"`
}

// Ref returns the diagnostic reference for the section.
func (s Section) Ref() errors.SectionRef {
	return errors.SectionRef{Tag: s.Tag, Ordinal: s.Ordinal, Line: s.Span.MarkerLine}
}

// Document is the result of a successful parse.
type Document struct {
	Sections    []Section
	Diagnostics []errors.Diagnostic
}

// ByTag returns the sections with the given normalized tag in ordinal order.
func (d *Document) ByTag(tag string) []Section {
	var out []Section
	for _, s := range d.Sections {
		if s.Tag == tag {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeTag case-folds a tag and resolves aliases.
func NormalizeTag(tag string) string {
	folded := cases.Fold().String(tag)
	if canonical, ok := aliases[folded]; ok {
		return canonical
	}
	return folded
}

// Normalize strips a UTF-8 BOM, replaces invalid UTF-8 and converts CRLF
// and CR line endings to LF.
func Normalize(src []byte) string {
	s := string(src)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Parse splits src into sections. It returns a MalformedDelimiter error when
// a primary marker is not followed by a tag; every other oddity is reported
// as a Diagnostic on the returned Document.
func Parse(src []byte) (*Document, error) {
	text := Normalize(src)
	text = strings.TrimSuffix(text, "\n")

	doc := &Document{}
	if text == "" {
		return doc, nil
	}

	lines := strings.Split(text, "\n")

	var (
		current  *Section
		body     []string
		preamble int
	)

	flush := func(endLine int) {
		if current == nil {
			return
		}
		current.Body = strings.Join(body, "\n")
		if len(body) == 0 {
			current.Span.EndLine = current.Span.MarkerLine
		} else {
			current.Span.EndLine = endLine
		}
		doc.Sections = append(doc.Sections, *current)
		body = nil
	}

	for i, line := range lines {
		lineNo := i + 1

		kind, rawTag := classify(line)
		switch kind {
		case lineMalformed:
			return nil, errors.NewMalformedDelimiter(lineNo,
				fmt.Sprintf("delimiter marker on line %d is not followed by a language tag", lineNo))

		case lineMarker:
			flush(lineNo - 1)
			current = &Section{
				Tag:     NormalizeTag(rawTag),
				RawTag:  rawTag,
				Ordinal: len(doc.Sections),
				Span:    Span{MarkerLine: lineNo, StartLine: lineNo + 1},
			}
			if current.Tag == "" {
				ref := current.Ref()
				doc.Diagnostics = append(doc.Diagnostics,
					errors.DiagnosticFromError(errors.NewUnknownLanguage("").WithLocation(lineNo, 0), &ref))
			}

		default:
			if current == nil {
				if preamble == 0 && strings.TrimSpace(line) != "" {
					preamble = lineNo
				}
				continue
			}
			body = append(body, line)
		}
	}
	flush(len(lines))

	if preamble > 0 {
		d := errors.Warning(errors.ErrCodeIgnoredContent, "content before the first section is ignored", nil)
		d.Line = preamble
		doc.Diagnostics = append(doc.Diagnostics, d)
	}

	return doc, nil
}

// ParseString is Parse for string input.
func ParseString(s string) (*Document, error) {
	return Parse([]byte(s))
}

type lineKind int

const (
	lineBody lineKind = iota
	lineMarker
	lineMalformed
)

// classify reports whether line is a section marker and extracts its raw tag.
func classify(line string) (lineKind, string) {
	trimmed := strings.TrimLeft(line, " \t")

	if rest, ok := strings.CutPrefix(trimmed, Marker); ok {
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			return lineMalformed, ""
		}
		return lineMarker, leadingTag(rest)
	}

	if rest, ok := strings.CutPrefix(trimmed, AltMarker); ok {
		tag := leadingTag(rest)
		if tag != "" && strings.TrimSpace(rest[len(tag):]) == "" {
			return lineMarker, tag
		}
	}

	return lineBody, ""
}

func leadingTag(s string) string {
	end := 0
	for i, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		end = i + utf8.RuneLen(r)
	}
	return s[:end]
}
