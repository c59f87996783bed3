// Package build drives the parse, compile and publish cycle and owns the
// artifact store that the HTTP server reads from.
package build

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/conneroisu/breach/internal/compiler"
	"github.com/conneroisu/breach/internal/errors"
)

// Status is the overall outcome of a build cycle.
type Status string

const (
	// StatusPending marks the placeholder snapshot served before the first
	// build completes.
	StatusPending Status = "pending"
	StatusClean   Status = "clean"
	StatusPartial Status = "partial"
	// StatusFailed is only ever reported, never published: a failed cycle
	// leaves the previous snapshot in force.
	StatusFailed Status = "failed"
)

// Artifact is the compiled output of one kind.
type Artifact struct {
	Kind        compiler.Kind       `json:"kind"`
	Text        string              `json:"-"`
	Diagnostics []errors.Diagnostic `json:"diagnostics"`
	OK          bool                `json:"ok"`
}

// slot identifies the n-th section carrying a given tag. Slots survive edits
// elsewhere in the file, which lets a failing section fall back to the output
// its slot had in the previous snapshot.
type slot struct {
	tag string
	n   int
}

// Snapshot is an immutable, versioned bundle of the three artifacts. It must
// not be modified after it is published.
type Snapshot struct {
	Sequence    uint64
	Status      Status
	Fingerprint string
	SourceHash  string
	BuiltAt     time.Time

	// Page is the markup artifact with stylesheet, script, overlay and reload
	// client injected. It is what GET / serves.
	Page       string
	Markup     Artifact
	Stylesheet Artifact
	Script     Artifact

	Diagnostics []errors.Diagnostic

	slots map[slot]string
}

// Artifact returns the artifact of the given kind.
func (s *Snapshot) Artifact(kind compiler.Kind) Artifact {
	switch kind {
	case compiler.KindStylesheet:
		return s.Stylesheet
	case compiler.KindScript:
		return s.Script
	default:
		return s.Markup
	}
}

func (s *Snapshot) lastGood(key slot) (string, bool) {
	if s == nil || s.slots == nil {
		return "", false
	}
	text, ok := s.slots[key]
	return text, ok
}

// Fingerprint hashes the three compiled texts. It is used for cache busting
// and as the HTTP ETag.
func Fingerprint(markup, stylesheet, script string) string {
	h := sha256.New()
	for _, part := range []string{markup, stylesheet, script} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func hashSource(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}
