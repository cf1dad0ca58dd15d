// Package session coordinates the two conversation transports behind one
// explicit mode machine.
//
// A session is always in exactly one [Mode]. Text is the initial and fallback
// mode; the three realtime modes cover call setup and the two sub-states of an
// established call (audio output suppressed vs. spoken). Every transition is
// driven by a discrete event arriving at a [Coordinator] method, and each
// transition executes to completion under the coordinator's lock before the
// next event is processed.
//
// The coordinator owns the mode and the per-call memory sync state. It never
// owns the transcript; turns flow into the shared [convo.Transcript] through
// its merge entry point only.
package session

import "encoding/json"

// Mode is the active transport configuration of a session.
type Mode int

const (
	// ModeText routes outgoing messages to the text completion client. No
	// realtime connection exists. Initial mode.
	ModeText Mode = iota

	// ModeRealtimeConnecting means call setup is in flight. The pre-flight
	// memory sync runs concurrently with the transport connect.
	ModeRealtimeConnecting

	// ModeRealtimeText means the realtime channel is up with no local
	// microphone published. Spoken audio output is suppressed.
	ModeRealtimeText

	// ModeRealtimeAudio means the local microphone is published and spoken
	// audio output is enabled.
	ModeRealtimeAudio
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeText:
		return "text"
	case ModeRealtimeConnecting:
		return "realtime_connecting"
	case ModeRealtimeText:
		return "realtime_text"
	case ModeRealtimeAudio:
		return "realtime_audio"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mode) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "realtime_connecting":
		*m = ModeRealtimeConnecting
	case "realtime_text":
		*m = ModeRealtimeText
	case "realtime_audio":
		*m = ModeRealtimeAudio
	default:
		*m = ModeText
	}
	return nil
}

// IsRealtime reports whether a realtime connection exists or is being set up.
func (m Mode) IsRealtime() bool {
	switch m {
	case ModeRealtimeConnecting, ModeRealtimeText, ModeRealtimeAudio:
		return true
	}
	return false
}

// SyncState tracks the per-call memory sync. It is transient: recomputed on
// each call setup, never persisted.
type SyncState int

const (
	SyncUnsynced SyncState = iota
	SyncSyncing
	SyncSynced
	SyncFailed
)

// String returns the string representation of the sync state.
func (s SyncState) String() string {
	switch s {
	case SyncSyncing:
		return "syncing"
	case SyncSynced:
		return "synced"
	case SyncFailed:
		return "failed"
	default:
		return "unsynced"
	}
}

// MarshalJSON implements json.Marshaler.
func (s SyncState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SyncState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "syncing":
		*s = SyncSyncing
	case "synced":
		*s = SyncSynced
	case "failed":
		*s = SyncFailed
	default:
		*s = SyncUnsynced
	}
	return nil
}
