package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dawnvoice/dawn/pkg/convo"
)

// newTestClient wires a Client to a test server and records backoff sleeps
// instead of performing them.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(Config{BaseURL: srv.URL, Token: "test-token"})
	var sleeps []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return client, &sleeps
}

func searchResponse(records ...Record) []byte {
	data, _ := json.Marshal(map[string]any{"results": records})
	return data
}

func TestSearchRetriesOnEmptyThenReturnsResults(t *testing.T) {
	var calls atomic.Int32
	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.Write(searchResponse())
			return
		}
		w.Write(searchResponse(Record{Content: "likes dinosaurs", UserID: "u1"}))
	}))

	records, err := client.Search(context.Background(), "interests", "u1", 20, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 1 || records[0].Content != "likes dinosaurs" {
		t.Errorf("records = %+v", records)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	// Zero-result backoff: 3s then 6s.
	want := []time.Duration{3 * time.Second, 6 * time.Second}
	if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
}

func TestSearchEmptyAfterCeilingIsNotError(t *testing.T) {
	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(searchResponse())
	}))

	records, err := client.Search(context.Background(), "", "new-user", 20, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %+v, want none", records)
	}
	if len(*sleeps) != 2 {
		t.Errorf("sleeps = %v, want 2 backoffs", *sleeps)
	}
}

func TestSearchErrorBackoffSchedule(t *testing.T) {
	var calls atomic.Int32
	client, sleeps := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	records, err := client.Search(context.Background(), "q", "u1", 20, 2)
	if err != nil {
		t.Fatalf("Search must degrade to empty, got err %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %+v, want none", records)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	// Transport-error backoff: 2s then 4s.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
}

func TestSearchUsesDefaultQuery(t *testing.T) {
	var gotQuery atomic.Value
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Get("query"))
		w.Write(searchResponse(Record{Content: "x", UserID: "u1"}))
	}))

	if _, err := client.Search(context.Background(), "", "u1", 0, 0); err != nil {
		t.Fatal(err)
	}
	if gotQuery.Load() != DefaultQuery {
		t.Errorf("query = %q, want %q", gotQuery.Load(), DefaultQuery)
	}
}

func TestSearchFiltersMismatchedOwner(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(searchResponse(
			Record{Content: "mine", UserID: "u1"},
			Record{Content: "theirs", UserID: "u2"},
			Record{Content: "legacy untagged"},
			Record{Content: "tagged via metadata", Metadata: map[string]any{"user_id": "u2"}},
		))
	}))

	records, err := client.Search(context.Background(), "q", "u1", 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %+v, want 2 (owned + legacy)", records)
	}
	if records[0].Content != "mine" || records[1].Content != "legacy untagged" {
		t.Errorf("records = %+v", records)
	}
}

func TestSearchCacheShortCircuitsRepeatQueries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(searchResponse(Record{Content: "cached", UserID: "u1"}))
	}))

	for i := 0; i < 3; i++ {
		records, err := client.Search(context.Background(), "q", "u1", 20, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 {
			t.Fatalf("records = %+v", records)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1 (cache hits after first)", calls.Load())
	}
}

func TestStoreInvalidatesCache(t *testing.T) {
	var searches atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		searches.Add(1)
		w.Write(searchResponse(Record{Content: "v", UserID: "u1"}))
	}))

	ctx := context.Background()
	if _, err := client.Search(ctx, "q", "u1", 20, 0); err != nil {
		t.Fatal(err)
	}
	if err := client.Store(ctx, []convo.Turn{convo.NewTurn(convo.RoleUser, "hi", convo.OriginText)}, "u1"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := client.Search(ctx, "q", "u1", 20, 0); err != nil {
		t.Fatal(err)
	}
	if searches.Load() != 2 {
		t.Errorf("searches = %d, want 2 (store invalidated the cache)", searches.Load())
	}
}

func TestStoreSendsRolesAndContent(t *testing.T) {
	var got storeRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	turns := []convo.Turn{
		{ID: "1", Timestamp: 1, Role: convo.RoleUser, Content: "hi", Origin: convo.OriginText},
		{ID: "2", Timestamp: 2, Role: convo.RoleAssistant, Content: "hello", Origin: convo.OriginText},
	}
	if err := client.Store(context.Background(), turns, "u1"); err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" || len(got.Messages) != 2 {
		t.Fatalf("request = %+v", got)
	}
	if got.Messages[0].Role != "user" || got.Messages[1].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestStoreEmptyBatchIsNoop(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batch")
	}))
	if err := client.Store(context.Background(), nil, "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestSearchCancelledDuringBackoff(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(searchResponse())
	}))
	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.Search(ctx, "q", "u1", 20, 2)
	if err == nil {
		t.Error("expected cancellation error from torn-down session")
	}
}

func TestDecodeSearchResponseShapes(t *testing.T) {
	bare := []byte(`[{"content":"a"},{"content":"b"}]`)
	records, err := decodeSearchResponse(bare)
	if err != nil || len(records) != 2 {
		t.Errorf("bare array: records = %+v, err = %v", records, err)
	}

	wrapped := []byte(`{"results":[{"content":"a"}]}`)
	records, err = decodeSearchResponse(wrapped)
	if err != nil || len(records) != 1 {
		t.Errorf("wrapped: records = %+v, err = %v", records, err)
	}

	if _, err := decodeSearchResponse([]byte(`not json`)); err == nil {
		t.Error("garbage should not decode")
	}
}

func TestCacheEvictsOldestBeyondCap(t *testing.T) {
	c := newResultCache(time.Minute, 2)
	now := time.Unix(0, 0)
	c.now = func() time.Time { now = now.Add(time.Second); return now }

	c.put("a", []Record{{Content: "a"}})
	c.put("b", []Record{{Content: "b"}})
	c.put("c", []Record{{Content: "c"}}) // evicts "a", the oldest

	if _, ok := c.get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Error("entry b should survive")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("entry c should survive")
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := newResultCache(60*time.Second, 8)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.put("u1", []Record{{Content: "x"}})
	if _, ok := c.get("u1"); !ok {
		t.Fatal("fresh entry should hit")
	}
	now = now.Add(61 * time.Second)
	if _, ok := c.get("u1"); ok {
		t.Error("stale entry should miss")
	}
}
