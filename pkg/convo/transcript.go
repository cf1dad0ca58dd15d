package convo

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Snapshotter persists a serialized mirror of the transcript. Every
// successful merge writes through to it synchronously.
type Snapshotter interface {
	Snapshot(ctx context.Context, turns []Turn) error
}

// Transcript is the ordered, de-duplicated conversation log spanning both
// transport modes. It is safe for concurrent use; all mutation goes through
// [Transcript.Merge].
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
	index map[string]int // turn ID -> position in turns
	snap  Snapshotter
}

// NewTranscript creates a transcript seeded with the given turns (typically
// loaded from a [Store] at startup). Invalid seed turns are dropped rather
// than rejected: persisted data may predate validation and must not prevent
// startup. snap may be nil.
func NewTranscript(snap Snapshotter, seed []Turn) *Transcript {
	tr := &Transcript{
		index: make(map[string]int),
		snap:  snap,
	}
	for _, t := range seed {
		if t.Validate() != nil {
			continue
		}
		if _, ok := tr.index[t.ID]; ok {
			continue
		}
		tr.index[t.ID] = len(tr.turns)
		tr.turns = append(tr.turns, t)
	}
	tr.sortLocked()
	return tr
}

// Merge reconciles a batch of incoming turns into the transcript.
//
// The whole batch is validated before any mutation: one malformed turn
// rejects the batch and the transcript is untouched. Duplicate IDs keep the
// first observed instance unless the incoming turn carries the Edited
// marker. After merging, turns are stably re-sorted by timestamp, so ties
// keep their prior relative order.
//
// Merge is idempotent: merging the same batch twice leaves the transcript
// unchanged. Every successful merge writes through to the Snapshotter; a
// snapshot failure is returned but the in-memory merge stands.
func (tr *Transcript) Merge(ctx context.Context, incoming []Turn) error {
	for _, t := range incoming {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, t := range incoming {
		if pos, ok := tr.index[t.ID]; ok {
			if t.Edited {
				tr.turns[pos] = t
			}
			continue
		}
		tr.index[t.ID] = len(tr.turns)
		tr.turns = append(tr.turns, t)
	}
	tr.sortLocked()

	if tr.snap != nil {
		if err := tr.snap.Snapshot(ctx, slices.Clone(tr.turns)); err != nil {
			return fmt.Errorf("convo: snapshot after merge: %w", err)
		}
	}
	return nil
}

// sortLocked re-sorts turns by timestamp (stable) and rebuilds the index.
// Caller holds tr.mu, except during construction.
func (tr *Transcript) sortLocked() {
	slices.SortStableFunc(tr.turns, func(a, b Turn) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})
	for i, t := range tr.turns {
		tr.index[t.ID] = i
	}
}

// Turns returns a copy of the transcript in render order.
func (tr *Transcript) Turns() []Turn {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return slices.Clone(tr.turns)
}

// TurnsByOrigin returns a copy of the turns produced by the given transport,
// in render order. The coordinator uses this to package text-mode turns for
// the pre-flight memory sync.
func (tr *Transcript) TurnsByOrigin(origin Origin) []Turn {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	var out []Turn
	for _, t := range tr.turns {
		if t.Origin == origin {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of turns in the transcript.
func (tr *Transcript) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.turns)
}
