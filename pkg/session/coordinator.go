package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dawnvoice/dawn/pkg/convo"
	"github.com/dawnvoice/dawn/pkg/memory"
)

var (
	// ErrBadTransition is returned when an event is not valid in the
	// current mode, e.g. starting a call while one is already up.
	ErrBadTransition = errors.New("session: invalid mode transition")

	// ErrEmptyMessage is returned for whitespace-only outgoing messages.
	ErrEmptyMessage = errors.New("session: empty message")
)

// TrackMicrophone is the local track kind that drives the audio sub-state.
// Other track kinds are ignored by the coordinator.
const TrackMicrophone = "microphone"

// DefaultGreeting instructs the provider on the proactive turn produced when
// the microphone is first published, so the user hears something immediately
// on unmute.
const DefaultGreeting = "Greet the user warmly in one short sentence and ask how you can help."

// finalStoreTimeout bounds the best-effort transcript store on disconnect.
const finalStoreTimeout = 30 * time.Second

// Transport is the realtime channel as the coordinator sees it. Incoming
// events (turns, track changes, disconnects) are delivered by the caller to
// the Handle methods of [Coordinator].
type Transport interface {
	Connect(ctx context.Context) error
	SendText(text string) error
	SetAudioOutputEnabled(enabled bool) error
	RequestGreeting(instructions string) error
	Disconnect() error
}

// TextSender is the text-mode client as the coordinator sees it.
type TextSender interface {
	Send(ctx context.Context, message, userID string) (convo.Turn, error)
}

// MemoryStore is the slice of the memory client the coordinator needs for the
// pre-flight sync and the final store on disconnect.
type MemoryStore interface {
	Store(ctx context.Context, turns []convo.Turn, userID string) error
}

// Config configures a [Coordinator].
type Config struct {
	Transport  Transport
	Text       TextSender
	Memory     MemoryStore
	Transcript *convo.Transcript
	UserID     string

	// Greeting overrides DefaultGreeting when non-empty.
	Greeting string

	// Logger defaults to [DefaultLogger].
	Logger Logger
}

// Coordinator is the mode machine of one conversation session. All methods
// are safe for concurrent use; each transition runs to completion under the
// lock before the next event is handled.
type Coordinator struct {
	transport  Transport
	text       TextSender
	memory     MemoryStore
	transcript *convo.Transcript
	userID     string
	greeting   string
	logger     Logger

	mu        sync.Mutex
	mode      Mode
	syncState SyncState
	audioOn   bool
	gen       uint64 // bumped on every teardown; stale async results check it
}

// New creates a coordinator in [ModeText].
func New(cfg Config) (*Coordinator, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	if cfg.Text == nil {
		return nil, fmt.Errorf("session: text sender is required")
	}
	if cfg.Transcript == nil {
		return nil, fmt.Errorf("session: transcript is required")
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger()
	}
	return &Coordinator{
		transport:  cfg.Transport,
		text:       cfg.Text,
		memory:     cfg.Memory,
		transcript: cfg.Transcript,
		userID:     cfg.UserID,
		greeting:   cfg.Greeting,
		logger:     cfg.Logger,
	}, nil
}

// Mode returns the current mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SyncState returns the memory sync state of the current or last call setup.
func (c *Coordinator) SyncState() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncState
}

// StartCall moves text → realtime-connecting and establishes the realtime
// channel. The pre-flight memory sync of text-mode turns runs concurrently
// with the connect and is never waited on: the memory provider's indexing
// delay must not stall call setup. A connect failure returns the session to
// text mode and is reported as a non-fatal error.
func (c *Coordinator) StartCall(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeText {
		c.mu.Unlock()
		return fmt.Errorf("%w: start call in mode %s", ErrBadTransition, c.mode)
	}
	c.mode = ModeRealtimeConnecting
	c.syncState = SyncSyncing
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.preflightSync(ctx, gen)

	err := c.transport.Connect(ctx)

	c.mu.Lock()
	if c.gen != gen || c.mode != ModeRealtimeConnecting {
		// Torn down while connecting; a late success must not resurrect
		// the call.
		c.mu.Unlock()
		if err == nil {
			_ = c.transport.Disconnect()
		}
		c.logger.DebugPrintf("discarding stale connect result")
		return nil
	}
	if err != nil {
		c.mode = ModeText
		c.mu.Unlock()
		c.logger.WarnPrintf("call setup failed, continuing in text mode: %v", err)
		return fmt.Errorf("session: call setup: %w", err)
	}
	c.mode = ModeRealtimeText
	c.audioOn = false
	c.mu.Unlock()

	if err := c.transport.SetAudioOutputEnabled(false); err != nil {
		c.logger.WarnPrintf("suppress audio output: %v", err)
	}
	c.logger.InfoPrintf("realtime channel established")
	return nil
}

// preflightSync packages the turns produced in text mode and stores them so
// the realtime agent can retrieve them once indexed. Failure marks the sync
// state and nothing else; the call proceeds on whatever was indexed before.
func (c *Coordinator) preflightSync(ctx context.Context, gen uint64) {
	var err error
	if c.memory != nil {
		if turns := c.transcript.TurnsByOrigin(convo.OriginText); len(turns) > 0 {
			err = c.memory.Store(ctx, turns, c.userID)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if err != nil {
		c.syncState = SyncFailed
		c.logger.WarnPrintf("pre-flight memory sync failed: %v", err)
		return
	}
	c.syncState = SyncSynced
}

// StopCall tears down the realtime channel and returns to text mode. Turns
// produced during the call stay in the transcript. A best-effort store of the
// full transcript runs in the background.
func (c *Coordinator) StopCall() error {
	c.mu.Lock()
	if !c.mode.IsRealtime() {
		c.mu.Unlock()
		return nil
	}
	c.mode = ModeText
	c.audioOn = false
	c.gen++
	c.mu.Unlock()

	err := c.transport.Disconnect()
	go c.finalStore()
	return err
}

// Send routes one outgoing user message to the transport of the current
// mode. In text and realtime-connecting modes it goes to the text client and
// the exchange is merged into the transcript; in the realtime modes it goes
// over the realtime channel and the returned turn is zero valued, with both
// sides of the exchange arriving through [Coordinator.HandleTurn].
//
// Sending never touches microphone or audio output state in any mode.
func (c *Coordinator) Send(ctx context.Context, message string) (convo.Turn, error) {
	if strings.TrimSpace(message) == "" {
		return convo.Turn{}, ErrEmptyMessage
	}

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	switch mode {
	case ModeRealtimeText, ModeRealtimeAudio:
		if err := c.transport.SendText(message); err != nil {
			return convo.Turn{}, fmt.Errorf("session: realtime send: %w", err)
		}
		return convo.Turn{}, nil
	default:
		// Text mode, and the safe fallback while a call is still
		// connecting.
		return c.sendText(ctx, message)
	}
}

func (c *Coordinator) sendText(ctx context.Context, message string) (convo.Turn, error) {
	userTurn := convo.NewTurn(convo.RoleUser, message, convo.OriginText)
	if err := c.transcript.Merge(ctx, []convo.Turn{userTurn}); err != nil {
		return convo.Turn{}, fmt.Errorf("session: merge user turn: %w", err)
	}

	reply, err := c.text.Send(ctx, message, c.userID)
	if err != nil {
		return convo.Turn{}, err
	}
	if err := c.transcript.Merge(ctx, []convo.Turn{reply}); err != nil {
		c.logger.WarnPrintf("merge assistant turn: %v", err)
	}
	return reply, nil
}

// HandleTurn merges one turn delivered by the realtime channel. Malformed
// turns are rejected by the merger and logged here.
func (c *Coordinator) HandleTurn(turn convo.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), finalStoreTimeout)
	defer cancel()
	if err := c.transcript.Merge(ctx, []convo.Turn{turn}); err != nil {
		c.logger.WarnPrintf("dropping realtime turn %s: %v", turn.ID, err)
	}
}

// HandleLocalTrack reacts to local track publish state reported by the
// transport. Publishing the microphone while in realtime-text enters
// realtime-audio, enables spoken output, and requests an immediate greeting.
// Unpublishing returns to realtime-text and disables spoken output exactly
// once; an in-flight spoken response is allowed to finish rather than being
// cut. All other kind/mode combinations are ignored.
func (c *Coordinator) HandleLocalTrack(kind string, published bool) {
	if kind != TrackMicrophone {
		return
	}

	c.mu.Lock()
	switch {
	case published && c.mode == ModeRealtimeText:
		c.mode = ModeRealtimeAudio
		c.audioOn = true
		c.mu.Unlock()
		if err := c.transport.SetAudioOutputEnabled(true); err != nil {
			c.logger.WarnPrintf("enable audio output: %v", err)
		}
		if err := c.transport.RequestGreeting(c.greeting); err != nil {
			c.logger.WarnPrintf("request greeting: %v", err)
		}
	case !published && c.mode == ModeRealtimeAudio:
		c.mode = ModeRealtimeText
		disable := c.audioOn
		c.audioOn = false
		c.mu.Unlock()
		if disable {
			if err := c.transport.SetAudioOutputEnabled(false); err != nil {
				c.logger.WarnPrintf("disable audio output: %v", err)
			}
		}
	default:
		c.mu.Unlock()
		c.logger.DebugPrintf("ignoring mic track event (published=%v) in mode %s", published, c.mode)
	}
}

// HandleDisconnect reacts to the transport closing, deliberately or not. The
// session returns to text mode and keeps every merged turn. err is nil for a
// deliberate disconnect.
func (c *Coordinator) HandleDisconnect(err error) {
	c.mu.Lock()
	if !c.mode.IsRealtime() {
		// StopCall already handled the teardown.
		c.mu.Unlock()
		return
	}
	c.mode = ModeText
	c.audioOn = false
	c.gen++
	c.mu.Unlock()

	if err != nil {
		c.logger.WarnPrintf("realtime channel lost, continuing in text mode: %v", err)
	}
	go c.finalStore()
}

// finalStore pushes the whole transcript to the memory provider after a call
// ends. Best effort; a failure loses nothing the next pre-flight sync cannot
// resend.
func (c *Coordinator) finalStore() {
	if c.memory == nil {
		return
	}
	turns := c.transcript.Turns()
	if len(turns) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalStoreTimeout)
	defer cancel()
	if err := c.memory.Store(ctx, turns, c.userID); err != nil {
		c.logger.WarnPrintf("final transcript store: %v", err)
	}
}

var _ MemoryStore = (*memory.Client)(nil)
