package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dawnvoice/dawn/pkg/convo"
)

// Config configures a [Client].
type Config struct {
	// URL is the provider's WebSocket endpoint (ws:// or wss://).
	URL string

	// Token authenticates the connection.
	Token string

	// HandshakeTimeout bounds the WebSocket dial. Default 15s.
	HandshakeTimeout time.Duration
}

// Client is a realtime channel client. Set the callbacks before calling
// [Client.Connect]; they are invoked from the read loop goroutine.
type Client struct {
	config Config

	// OnTurn receives each completed turn (text or transcribed audio)
	// delivered over the channel.
	OnTurn func(convo.Turn)

	// OnLocalTrack reports local track publish/unpublish events observed
	// by the provider. kind is e.g. TrackSourceMicrophone.
	OnLocalTrack func(kind string, published bool)

	// OnDisconnect fires once when the channel closes. err is nil for a
	// deliberate disconnect.
	OnDisconnect func(err error)

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	closeCh   chan struct{}
	closeOnce *sync.Once
}

// NewClient creates a realtime client.
func NewClient(config Config) *Client {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 15 * time.Second
	}
	return &Client{config: config}
}

// Connect dials the provider and waits for its session acknowledgment.
// It returns once the channel is usable or with the failure.
func (c *Client) Connect(ctx context.Context) error {
	headers := http.Header{}
	if c.config.Token != "" {
		headers.Set("Authorization", "Bearer "+c.config.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: connect failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime: connect failed: %w", err)
	}

	// The first event must acknowledge the session; anything else is a
	// handshake failure.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	}
	_, message, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("realtime: handshake read: %w", err)
	}
	event, err := parseEvent(message)
	if err != nil {
		conn.Close()
		return fmt.Errorf("realtime: handshake: %w", err)
	}
	if event.Type != eventTypeSessionCreated || event.Session == nil {
		conn.Close()
		return fmt.Errorf("realtime: handshake: unexpected event %q", event.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	closeCh := make(chan struct{})
	closeOnce := &sync.Once{}
	c.mu.Lock()
	c.conn = conn
	c.sessionID = event.Session.ID
	c.closeCh = closeCh
	c.closeOnce = closeOnce
	c.mu.Unlock()

	go c.readLoop(conn, closeCh, closeOnce)

	slog.Debug("realtime: connected", "session", event.Session.ID)
	return nil
}

// SessionID returns the provider session ID, empty before Connect.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SendText sends one user text turn over the channel.
func (c *Client) SendText(text string) error {
	return c.sendEvent(map[string]any{
		"event_id": newEventID(),
		"type":     eventTypeItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// SetAudioOutputEnabled switches spoken audio output on or off. With audio
// off the provider still streams text turns.
func (c *Client) SetAudioOutputEnabled(enabled bool) error {
	modalities := []string{"text"}
	if enabled {
		modalities = []string{"text", "audio"}
	}
	return c.sendEvent(map[string]any{
		"event_id": newEventID(),
		"type":     eventTypeSessionUpdate,
		"session":  map[string]any{"modalities": modalities},
	})
}

// RequestGreeting asks the provider to produce an immediate proactive
// response following the given instructions, without adding a user turn to
// the conversation.
func (c *Client) RequestGreeting(instructions string) error {
	return c.sendEvent(map[string]any{
		"event_id": newEventID(),
		"type":     eventTypeResponseCreate,
		"response": map[string]any{"instructions": instructions},
	})
}

// Disconnect closes the channel. OnDisconnect fires with a nil error.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	closeCh := c.closeCh
	closeOnce := c.closeOnce
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	var err error
	closeOnce.Do(func() {
		close(closeCh)
		err = conn.Close()
		if c.OnDisconnect != nil {
			c.OnDisconnect(nil)
		}
	})
	return err
}

// sendEvent writes one JSON event to the channel.
func (c *Client) sendEvent(event map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	return c.conn.WriteJSON(event)
}

// readLoop dispatches server events until the connection closes.
func (c *Client) readLoop(conn *websocket.Conn, closeCh chan struct{}, closeOnce *sync.Once) {
	for {
		select {
		case <-closeCh:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closeCh:
				// Deliberate disconnect already reported.
			default:
				closeOnce.Do(func() {
					close(closeCh)
					conn.Close()
					c.mu.Lock()
					c.conn = nil
					c.mu.Unlock()
					if c.OnDisconnect != nil {
						c.OnDisconnect(fmt.Errorf("realtime: read: %w", err))
					}
				})
			}
			return
		}

		event, err := parseEvent(message)
		if err != nil {
			slog.Warn("realtime: dropping unparseable event", "err", err)
			continue
		}
		c.dispatch(event)
	}
}

func (c *Client) dispatch(event *serverEvent) {
	switch event.Type {
	case eventTypeItemCreated:
		if event.Item == nil {
			return
		}
		if turn, ok := event.Item.turn(); ok && c.OnTurn != nil {
			c.OnTurn(turn)
		}
	case eventTypeTrackPublished:
		if c.OnLocalTrack != nil {
			c.OnLocalTrack(event.Source, true)
		}
	case eventTypeTrackUnpublished:
		if c.OnLocalTrack != nil {
			c.OnLocalTrack(event.Source, false)
		}
	case eventTypeError:
		if event.Error != nil {
			slog.Warn("realtime: provider error event", "code", event.Error.Code, "message", event.Error.Message)
		}
	default:
		// Unknown event types are forward-compatible noise.
		slog.Debug("realtime: ignoring event", "type", event.Type)
	}
}

func parseEvent(message []byte) (*serverEvent, error) {
	var event serverEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	event.Raw = message
	return &event, nil
}

func newEventID() string {
	return "evt_" + uuid.New().String()[:12]
}
