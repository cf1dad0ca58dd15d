// Package textmode provides the plain request/response conversation client
// used while no realtime channel is up. Each call sends one user message
// plus a trimmed slice of recent history to a completion provider and
// returns the assistant's turn.
//
// The client keeps its own local history mirror purely for trimming context
// on the next call; the transcript merger remains the authoritative store.
// After every exchange it fires an unawaited best-effort store to the
// long-term memory provider — losing one exchange from long-term memory is
// acceptable, losing the live response to the user is not.
package textmode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dawnvoice/dawn/pkg/convo"
	"github.com/dawnvoice/dawn/pkg/memory"
)

// Sentinel errors.
var (
	// ErrEmptyMessage is returned for blank input, before any network call.
	ErrEmptyMessage = errors.New("textmode: empty message")
)

// DefaultHistoryLimit bounds the history slice sent with each request,
// limiting payload size and token cost.
const DefaultHistoryLimit = 50

// storeTimeout bounds the background memory store so an unawaited goroutine
// cannot linger forever.
const storeTimeout = 30 * time.Second

// Completer is the single-shot completion provider contract.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []convo.Turn, message string) (string, error)
}

// MemoryClient is the slice of the memory provider the text client uses.
// Implemented by [memory.Client].
type MemoryClient interface {
	Store(ctx context.Context, turns []convo.Turn, userID string) error
	Search(ctx context.Context, query, userID string, limit, maxRetries int) ([]memory.Record, error)
}

// Config configures a [Client].
type Config struct {
	// Completer handles the completion call. Required.
	Completer Completer

	// Memory receives the background store after each exchange and
	// supplies memory context for the system prompt. Optional: without it
	// the client runs memoryless.
	Memory MemoryClient

	// SystemPrompt is the base instruction text.
	SystemPrompt string

	// HistoryLimit overrides DefaultHistoryLimit.
	HistoryLimit int
}

// Client is the text-mode conversation client.
type Client struct {
	completer    Completer
	mem          MemoryClient
	systemPrompt string
	historyLimit int

	mu      sync.Mutex
	history []convo.Turn
}

// New creates a text-mode client.
func New(cfg Config) (*Client, error) {
	if cfg.Completer == nil {
		return nil, errors.New("textmode: Config.Completer is required")
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Client{
		completer:    cfg.Completer,
		mem:          cfg.Memory,
		systemPrompt: cfg.SystemPrompt,
		historyLimit: limit,
	}, nil
}

// Send submits one user message and returns the assistant's turn.
//
// Empty input is rejected before any network call. The request carries the
// most recent HistoryLimit turns from the local mirror. On success both
// sides of the exchange are appended to the mirror and handed to the memory
// provider in the background; a failed store is logged and never retried.
func (c *Client) Send(ctx context.Context, message, userID string) (convo.Turn, error) {
	if strings.TrimSpace(message) == "" {
		return convo.Turn{}, ErrEmptyMessage
	}

	history := c.recentHistory()
	prompt := c.buildSystemPrompt(ctx, userID)

	reply, err := c.completer.Complete(ctx, prompt, history, message)
	if err != nil {
		return convo.Turn{}, fmt.Errorf("textmode: complete: %w", err)
	}

	userTurn := convo.NewTurn(convo.RoleUser, message, convo.OriginText)
	assistantTurn := convo.NewTurn(convo.RoleAssistant, reply, convo.OriginText)

	c.mu.Lock()
	c.history = append(c.history, userTurn, assistantTurn)
	if len(c.history) > c.historyLimit {
		c.history = c.history[len(c.history)-c.historyLimit:]
	}
	c.mu.Unlock()

	if c.mem != nil {
		// Fire-and-forget: the live response must not wait on indexing.
		go func() {
			storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
			defer cancel()
			if err := c.mem.Store(storeCtx, []convo.Turn{userTurn, assistantTurn}, userID); err != nil {
				slog.Warn("textmode: background memory store failed", "user", userID, "err", err)
			}
		}()
	}

	return assistantTurn, nil
}

// Seed replaces the local history mirror, trimmed to the history limit.
// Called once at startup with the hydrated transcript so the first request
// after a reload still carries context.
func (c *Client) Seed(turns []convo.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(turns) > c.historyLimit {
		turns = turns[len(turns)-c.historyLimit:]
	}
	c.history = append([]convo.Turn(nil), turns...)
}

// recentHistory returns a trimmed copy of the mirror.
func (c *Client) recentHistory() []convo.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.history
	if len(h) > c.historyLimit {
		h = h[len(h)-c.historyLimit:]
	}
	return append([]convo.Turn(nil), h...)
}

// buildSystemPrompt extends the base prompt with memory context. The search
// uses zero retries: a text turn should answer promptly, and the client's
// cache already smooths consecutive turns. The model is told to only
// reference what the memories state explicitly.
func (c *Client) buildSystemPrompt(ctx context.Context, userID string) string {
	prompt := c.systemPrompt
	if c.mem == nil {
		return prompt
	}
	records, err := c.mem.Search(ctx, "", userID, memory.DefaultLimit, 0)
	if err != nil || len(records) == 0 {
		return prompt
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nPrevious conversation context (only reference what is explicitly stated below):\n")
	for _, r := range records {
		sb.WriteString("- ")
		sb.WriteString(r.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nIf asked about something not listed, say you don't have that information from previous conversations. Never invent conversation details.")
	return sb.String()
}
