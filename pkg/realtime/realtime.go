// Package realtime implements the client side of the realtime conversation
// channel: a WebSocket session against the provider's event protocol that
// carries text turns, transcribed audio turns, local track notifications,
// and audio output control.
//
// The package deliberately exposes a narrow surface — connect, send a text
// turn, toggle audio output, request a proactive greeting, disconnect, and
// three callbacks — because everything below it (track negotiation, audio
// codecs, voice activity detection) belongs to the provider. Raw audio never
// crosses this boundary; spoken turns arrive already transcribed.
package realtime

import (
	"encoding/json"

	"github.com/dawnvoice/dawn/pkg/convo"
)

// TrackSourceMicrophone is the local track source kind the mode coordinator
// cares about. Other kinds (camera, screen share) pass through unchanged.
const TrackSourceMicrophone = "microphone"

// Client event types sent to the provider.
const (
	eventTypeSessionUpdate  = "session.update"
	eventTypeItemCreate     = "conversation.item.create"
	eventTypeResponseCreate = "response.create"
)

// Server event types received from the provider.
const (
	eventTypeSessionCreated   = "session.created"
	eventTypeItemCreated      = "conversation.item.created"
	eventTypeTrackPublished   = "track.published"
	eventTypeTrackUnpublished = "track.unpublished"
	eventTypeError            = "error"
)

// serverEvent is the decoded form of one provider event. Only the fields
// the client consumes are mapped; Raw keeps the full payload for debugging.
type serverEvent struct {
	Type    string         `json:"type"`
	EventID string         `json:"event_id,omitempty"`
	Session *sessionInfo   `json:"session,omitempty"`
	Item    *item          `json:"item,omitempty"`
	Source  string         `json:"source,omitempty"`
	Error   *protocolError `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type sessionInfo struct {
	ID string `json:"id"`
}

// item is one conversation item: a user or assistant message with text or
// transcribed audio content.
type item struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Timestamp int64         `json:"ts,omitempty"`
	Content   []itemContent `json:"content,omitempty"`
}

type itemContent struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type protocolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// turn converts a conversation item into a transcript turn. The provider's
// item ID becomes the turn ID, so a retransmitted item deduplicates in the
// merger instead of duplicating in the transcript.
func (it *item) turn() (convo.Turn, bool) {
	var text string
	for _, c := range it.Content {
		switch {
		case c.Text != "":
			text += c.Text
		case c.Transcript != "":
			text += c.Transcript
		}
	}
	if it.ID == "" || text == "" {
		return convo.Turn{}, false
	}

	role := convo.RoleAssistant
	if it.Role == "user" {
		role = convo.RoleUser
	}
	ts := it.Timestamp
	if ts == 0 {
		ts = convo.NowMilli()
	}
	return convo.Turn{
		ID:        it.ID,
		Timestamp: ts,
		Role:      role,
		Content:   text,
		Origin:    convo.OriginRealtime,
	}, true
}
