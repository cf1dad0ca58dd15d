// Package convo provides the cross-mode conversation transcript: the Turn
// data model, the ordered de-duplicated [Transcript] merger, and a
// write-through [Store] that mirrors the transcript into a kv store.
//
// The transcript is the single source of truth for what the user sees. Turns
// arrive from two transports (text-mode HTTP exchanges and the realtime
// channel) in arbitrary order; [Transcript.Merge] reconciles them into one
// chronological log.
//
// # Ownership
//
// The Transcript owns the in-memory turn sequence and is its only writer.
// The Store holds a serialized mirror, never a second writable copy. Other
// packages read via [Transcript.Turns].
package convo

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrInvalidTurn is returned when a turn is missing its ID or timestamp.
	ErrInvalidTurn = errors.New("convo: invalid turn")
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Origin identifies which transport produced a turn.
type Origin string

const (
	OriginText     Origin = "text"
	OriginRealtime Origin = "realtime"
)

// Turn is a single conversational utterance. Realtime audio is transcribed
// to text before it becomes a Turn; raw audio never enters the transcript.
type Turn struct {
	// ID is unique within a transcript and stable across merges.
	ID string `json:"id" msgpack:"id"`

	// Timestamp is the Unix timestamp in milliseconds when the turn was
	// created. Turns render in Timestamp order regardless of arrival order.
	Timestamp int64 `json:"ts" msgpack:"ts"`

	Role    Role   `json:"role" msgpack:"role"`
	Content string `json:"content" msgpack:"content"`
	Origin  Origin `json:"origin" msgpack:"origin"`

	// Edited marks a turn that supersedes an earlier instance with the
	// same ID. Without it the first observed instance is authoritative.
	Edited bool `json:"edited,omitempty" msgpack:"edited,omitempty"`
}

// Validate reports whether the turn carries the fields merging depends on.
func (t Turn) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTurn)
	}
	if t.Timestamp == 0 {
		return fmt.Errorf("%w: missing timestamp (id %s)", ErrInvalidTurn, t.ID)
	}
	return nil
}

// NewTurn creates a turn with a fresh ID and the current timestamp.
func NewTurn(role Role, content string, origin Origin) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Timestamp: NowMilli(),
		Role:      role,
		Content:   content,
		Origin:    origin,
	}
}

// lastMilli tracks the most recently returned timestamp to keep NowMilli
// monotonic. Two turns created within the same millisecond would otherwise
// sort by arrival order only.
var lastMilli atomic.Int64

// NowMilli returns a monotonically increasing Unix millisecond timestamp.
func NowMilli() int64 {
	now := time.Now().UnixMilli()
	for {
		old := lastMilli.Load()
		next := now
		if next <= old {
			next = old + 1
		}
		if lastMilli.CompareAndSwap(old, next) {
			return next
		}
	}
}
