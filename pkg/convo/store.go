package convo

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dawnvoice/dawn/pkg/kv"
)

// Store mirrors a transcript into a kv store, one entry per turn. Keys are
// ["convo", conversation, <zero-padded timestamp>_<turn id>] so a prefix
// List returns turns in chronological order.
//
// Save is write-through and synchronous with respect to the caller: there is
// no queue between a merge and the durable mirror, so an abrupt shutdown
// loses at most the merge in progress.
type Store struct {
	store  kv.Store
	convID string
}

// NewStore creates a transcript store for one conversation.
func NewStore(store kv.Store, convID string) *Store {
	if convID == "" {
		convID = "default"
	}
	return &Store{store: store, convID: convID}
}

// Save replaces the persisted mirror with the given turns. Entries for turns
// no longer present are pruned; the new set is written in one atomic batch.
func (s *Store) Save(ctx context.Context, turns []Turn) error {
	entries := make([]kv.Entry, 0, len(turns))
	keep := make(map[string]bool, len(turns))
	for _, t := range turns {
		data, err := msgpack.Marshal(t)
		if err != nil {
			return fmt.Errorf("convo: encode turn %s: %w", t.ID, err)
		}
		key := s.turnKey(t)
		keep[key.String()] = true
		entries = append(entries, kv.Entry{Key: key, Value: data})
	}

	var stale []kv.Key
	for entry, err := range s.store.List(ctx, s.prefix()) {
		if err != nil {
			return fmt.Errorf("convo: list persisted turns: %w", err)
		}
		if !keep[entry.Key.String()] {
			stale = append(stale, entry.Key)
		}
	}
	if len(stale) > 0 {
		if err := s.store.BatchDelete(ctx, stale); err != nil {
			return fmt.Errorf("convo: prune stale turns: %w", err)
		}
	}
	if err := s.store.BatchSet(ctx, entries); err != nil {
		return fmt.Errorf("convo: write turns: %w", err)
	}
	return nil
}

// Load reads the persisted mirror. Corrupt entries are skipped so a damaged
// record never prevents startup; absent data yields an empty slice.
func (s *Store) Load(ctx context.Context) ([]Turn, error) {
	var turns []Turn
	for entry, err := range s.store.List(ctx, s.prefix()) {
		if err != nil {
			return nil, fmt.Errorf("convo: load transcript: %w", err)
		}
		var t Turn
		if err := msgpack.Unmarshal(entry.Value, &t); err != nil {
			continue
		}
		if t.Validate() != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Snapshot implements [Snapshotter].
func (s *Store) Snapshot(ctx context.Context, turns []Turn) error {
	return s.Save(ctx, turns)
}

func (s *Store) prefix() kv.Key {
	return kv.Key{"convo", s.convID}
}

func (s *Store) turnKey(t Turn) kv.Key {
	// Zero-padded so lexicographic key order matches timestamp order.
	return kv.Key{"convo", s.convID, fmt.Sprintf("%020d_%s", t.Timestamp, t.ID)}
}

// Ensure Store implements Snapshotter.
var _ Snapshotter = (*Store)(nil)
