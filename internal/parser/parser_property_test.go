//go:build property

package parser

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/breach/internal/errors"
)

// TestParserProperties validates totality, determinism and body round-trips.
func TestParserProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	lineGen := gen.OneGenOf(
		gen.AlphaString(),
		gen.OneConstOf(
			"¦",
			"¦ html",
			"¦html",
			"¦SCSS extra",
			"|css",
			"| a | b |",
			"¦#",
			"\r",
			"\ufeff",
			"\t¦ts",
			"日本¦語",
		),
	)

	// Property: Parse either returns a document or a MalformedDelimiter error
	properties.Property("parse is total", prop.ForAll(
		func(lines []string) bool {
			doc, err := ParseString(strings.Join(lines, "\n"))
			if err != nil {
				return doc == nil && errors.IsMalformedDelimiter(err)
			}
			for i, s := range doc.Sections {
				if s.Ordinal != i || s.Span.StartLine != s.Span.MarkerLine+1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(lineGen),
	))

	// Property: Parse is deterministic
	properties.Property("parse is deterministic", prop.ForAll(
		func(lines []string) bool {
			src := strings.Join(lines, "\n")
			a, errA := ParseString(src)
			b, errB := ParseString(src)
			return reflect.DeepEqual(a, b) && reflect.DeepEqual(errA, errB)
		},
		gen.SliceOf(lineGen),
	))

	// Property: bodies without markers come back unchanged
	properties.Property("section bodies round-trip", prop.ForAll(
		func(bodies []string) bool {
			var b strings.Builder
			for _, body := range bodies {
				b.WriteString("¦html\n")
				b.WriteString(body)
				b.WriteString("\n")
			}

			doc, err := ParseString(b.String())
			if err != nil || len(doc.Sections) != len(bodies) {
				return false
			}
			for i, s := range doc.Sections {
				if s.Body != bodies[i] || s.Tag != "html" {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
