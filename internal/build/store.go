package build

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/conneroisu/breach/internal/compiler"
	"github.com/conneroisu/breach/internal/errors"
)

// Store holds the currently published snapshot. Publication swaps a single
// pointer, so readers see either the old or the new snapshot in full.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store serving the pending snapshot 0.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(pendingSnapshot())
	return s
}

// Current returns the published snapshot. It never returns nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish installs snap if its sequence is newer than the current one and
// returns ErrStaleSnapshot otherwise.
func (s *Store) Publish(snap *Snapshot) error {
	for {
		cur := s.current.Load()
		if snap.Sequence <= cur.Sequence {
			return errors.ErrStaleSnapshot
		}
		if s.current.CompareAndSwap(cur, snap) {
			return nil
		}
	}
}

func pendingSnapshot() *Snapshot {
	page, _ := PreparePage(context.Background(), PageInput{})
	return &Snapshot{
		Sequence:    0,
		Status:      StatusPending,
		Fingerprint: Fingerprint("", "", ""),
		BuiltAt:     time.Now(),
		Page:        page,
		Markup:      Artifact{Kind: compiler.KindMarkup, OK: true},
		Stylesheet:  Artifact{Kind: compiler.KindStylesheet, OK: true},
		Script:      Artifact{Kind: compiler.KindScript, OK: true},
	}
}
