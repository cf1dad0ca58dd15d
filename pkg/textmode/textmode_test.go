package textmode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dawnvoice/dawn/pkg/convo"
	"github.com/dawnvoice/dawn/pkg/memory"
)

// fakeCompleter records calls and returns a canned reply.
type fakeCompleter struct {
	mu         sync.Mutex
	calls      int
	lastPrompt string
	lastHist   []convo.Turn
	lastMsg    string
	reply      string
	err        error
}

func (f *fakeCompleter) Complete(_ context.Context, systemPrompt string, history []convo.Turn, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPrompt = systemPrompt
	f.lastHist = history
	f.lastMsg = message
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "reply to: " + message, nil
}

// fakeMemory implements MemoryClient with channels for async assertions.
type fakeMemory struct {
	mu       sync.Mutex
	stored   [][]convo.Turn
	storeErr error
	storedCh chan struct{}
	records  []memory.Record
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{storedCh: make(chan struct{}, 16)}
}

func (f *fakeMemory) Store(_ context.Context, turns []convo.Turn, _ string) error {
	f.mu.Lock()
	f.stored = append(f.stored, turns)
	f.mu.Unlock()
	f.storedCh <- struct{}{}
	return f.storeErr
}

func (f *fakeMemory) Search(_ context.Context, _, _ string, _, _ int) ([]memory.Record, error) {
	return f.records, nil
}

func (f *fakeMemory) waitStore(t *testing.T) []convo.Turn {
	t.Helper()
	select {
	case <-f.storedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("background store never fired")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[len(f.stored)-1]
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	completer := &fakeCompleter{}
	client, err := New(Config{Completer: completer})
	if err != nil {
		t.Fatal(err)
	}

	for _, msg := range []string{"", "   ", "\n\t"} {
		if _, err := client.Send(context.Background(), msg, "u1"); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Send(%q): err = %v, want ErrEmptyMessage", msg, err)
		}
	}
	if completer.calls != 0 {
		t.Errorf("completer called %d times for empty input, want 0", completer.calls)
	}
}

func TestSendReturnsAssistantTurn(t *testing.T) {
	client, err := New(Config{Completer: &fakeCompleter{reply: "hello there"}})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := client.Send(context.Background(), "hi", "u1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if turn.Role != convo.RoleAssistant || turn.Origin != convo.OriginText {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Content != "hello there" {
		t.Errorf("content = %q", turn.Content)
	}
	if turn.Validate() != nil {
		t.Errorf("returned turn is invalid: %+v", turn)
	}
}

func TestSendTrimsHistory(t *testing.T) {
	completer := &fakeCompleter{}
	client, err := New(Config{Completer: completer, HistoryLimit: 6})
	if err != nil {
		t.Fatal(err)
	}

	// Each exchange adds two mirror turns; after 5 exchanges the mirror
	// holds 10, but requests must carry at most 6.
	for i := 0; i < 5; i++ {
		if _, err := client.Send(context.Background(), fmt.Sprintf("msg %d", i), "u1"); err != nil {
			t.Fatal(err)
		}
	}
	if len(completer.lastHist) != 6 {
		t.Errorf("history len = %d, want 6", len(completer.lastHist))
	}
	// The trimmed window keeps the most recent turns.
	if completer.lastHist[len(completer.lastHist)-1].Content != "reply to: msg 3" {
		t.Errorf("history tail = %q", completer.lastHist[len(completer.lastHist)-1].Content)
	}
}

func TestSendDefaultHistoryLimit(t *testing.T) {
	client, err := New(Config{Completer: &fakeCompleter{}})
	if err != nil {
		t.Fatal(err)
	}
	if client.historyLimit != DefaultHistoryLimit {
		t.Errorf("historyLimit = %d, want %d", client.historyLimit, DefaultHistoryLimit)
	}
}

func TestSendStoresExchangeInBackground(t *testing.T) {
	mem := newFakeMemory()
	client, err := New(Config{Completer: &fakeCompleter{}, Memory: mem})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Send(context.Background(), "remember me", "u1"); err != nil {
		t.Fatal(err)
	}
	stored := mem.waitStore(t)
	if len(stored) != 2 {
		t.Fatalf("stored %d turns, want 2", len(stored))
	}
	if stored[0].Role != convo.RoleUser || stored[1].Role != convo.RoleAssistant {
		t.Errorf("stored roles = %v, %v", stored[0].Role, stored[1].Role)
	}
}

func TestSendSucceedsWhenStoreFails(t *testing.T) {
	mem := newFakeMemory()
	mem.storeErr = errors.New("provider down")
	client, err := New(Config{Completer: &fakeCompleter{}, Memory: mem})
	if err != nil {
		t.Fatal(err)
	}

	turn, err := client.Send(context.Background(), "hi", "u1")
	if err != nil {
		t.Fatalf("Send must not fail on store error: %v", err)
	}
	if turn.Content == "" {
		t.Error("expected live response despite store failure")
	}
	mem.waitStore(t)
}

func TestSendIncludesMemoryContextInPrompt(t *testing.T) {
	mem := newFakeMemory()
	mem.records = []memory.Record{{Content: "user likes dinosaurs"}}
	completer := &fakeCompleter{}
	client, err := New(Config{Completer: completer, Memory: mem, SystemPrompt: "You are Alex."})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Send(context.Background(), "hi", "u1"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(completer.lastPrompt, "You are Alex.") {
		t.Errorf("prompt = %q, want base prompt first", completer.lastPrompt)
	}
	if !strings.Contains(completer.lastPrompt, "user likes dinosaurs") {
		t.Errorf("prompt missing memory context: %q", completer.lastPrompt)
	}
	mem.waitStore(t)
}

func TestSendCompleterErrorPropagates(t *testing.T) {
	wantErr := errors.New("endpoint down")
	client, err := New(Config{Completer: &fakeCompleter{err: wantErr}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Send(context.Background(), "hi", "u1"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestSeedTrimsToLimit(t *testing.T) {
	completer := &fakeCompleter{}
	client, err := New(Config{Completer: completer, HistoryLimit: 2})
	if err != nil {
		t.Fatal(err)
	}

	seed := []convo.Turn{
		{ID: "1", Timestamp: 1, Role: convo.RoleUser, Content: "old"},
		{ID: "2", Timestamp: 2, Role: convo.RoleAssistant, Content: "older reply"},
		{ID: "3", Timestamp: 3, Role: convo.RoleUser, Content: "recent"},
	}
	client.Seed(seed)

	if _, err := client.Send(context.Background(), "hi", "u1"); err != nil {
		t.Fatal(err)
	}
	if len(completer.lastHist) != 2 {
		t.Fatalf("history len = %d, want 2", len(completer.lastHist))
	}
	if completer.lastHist[0].Content != "older reply" || completer.lastHist[1].Content != "recent" {
		t.Errorf("history = %+v", completer.lastHist)
	}
}

func TestNewRequiresCompleter(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without completer should fail")
	}
}

func TestBuildOpenAIMessagesRolesAndOrder(t *testing.T) {
	history := []convo.Turn{
		{Role: convo.RoleUser, Content: "q1"},
		{Role: convo.RoleAssistant, Content: "a1"},
	}
	msgs := buildOpenAIMessages("sys", history, "q2")
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}

	msgs = buildOpenAIMessages("", nil, "solo")
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1 without system prompt", len(msgs))
	}
}
