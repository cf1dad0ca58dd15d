// Package memory provides the client for the remote long-term memory
// provider: best-effort batch storage of conversation turns and search with
// a retry policy that tolerates the provider's asynchronous indexing delay.
//
// The provider acknowledges a store request before the data is searchable;
// the gap is typically several seconds. [Client.Search] masks that gap by
// retrying zero-result queries with exponential backoff. Nothing in this
// package may block or fail the surrounding conversation: after the retry
// ceiling the client returns whatever the last attempt yielded, possibly
// nothing at all.
//
// A bounded per-user cache short-circuits searches issued in quick
// succession (e.g. consecutive text-mode turns). Any successful store for a
// user invalidates that user's entry immediately.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dawnvoice/dawn/pkg/convo"
)

// Defaults for search behavior.
const (
	// DefaultQuery is used when the caller provides no query: the provider
	// rejects empty queries, so a broad context query stands in.
	DefaultQuery = "user information and conversation history"

	// DefaultLimit is the default maximum number of memories per search.
	DefaultLimit = 20

	// DefaultMaxRetries is the default number of additional search
	// attempts after the first.
	DefaultMaxRetries = 2

	// DefaultCacheTTL is the freshness window for cached search results.
	DefaultCacheTTL = 60 * time.Second

	// DefaultCacheCap bounds the number of cached user entries.
	DefaultCacheCap = 64
)

// Backoff bases. Zero results back off slower than transport errors: an
// empty result usually means the index hasn't caught up yet, while an error
// is worth re-probing sooner.
const (
	emptyBackoffBase = 3 * time.Second
	errorBackoffBase = 2 * time.Second
)

// Record is one memory returned by the provider.
type Record struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	UserID   string         `json:"user_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Config configures a [Client].
type Config struct {
	// BaseURL is the provider endpoint, e.g. "https://api.example.dev".
	BaseURL string

	// Token authenticates requests.
	Token string

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// CacheTTL is the search result freshness window. Default 60s.
	CacheTTL time.Duration

	// CacheCap bounds the number of cached user entries. Default 64.
	CacheCap int
}

// Client talks to the remote memory provider.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cache   *resultCache

	// sleep is the cancellable backoff wait, extracted for test injection.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a memory client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cap := cfg.CacheCap
	if cap <= 0 {
		cap = DefaultCacheCap
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
		cache:   newResultCache(ttl, cap),
		sleep:   sleepCtx,
	}
}

// storeRequest is the provider's store payload.
type storeRequest struct {
	Messages []storeMessage `json:"messages"`
	UserID   string         `json:"user_id"`
}

type storeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store sends a batch of turns to the provider. The provider's response is
// an accepted/queued acknowledgment, not confirmation of indexing. Delivery
// is at-least-once; the provider deduplicates by content.
//
// A successful store invalidates the user's cached search results so the
// next search observes the provider, not a stale cache.
func (c *Client) Store(ctx context.Context, turns []convo.Turn, userID string) error {
	if len(turns) == 0 {
		return nil
	}

	req := storeRequest{UserID: userID, Messages: make([]storeMessage, 0, len(turns))}
	for _, t := range turns {
		req.Messages = append(req.Messages, storeMessage{Role: string(t.Role), Content: t.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("memory: encode store request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/memories", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("memory: build store request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("memory: store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("memory: store: provider returned %d: %s", resp.StatusCode, msg)
	}

	c.cache.invalidate(userID)
	slog.Debug("memory: stored turns", "count", len(turns), "user", userID)
	return nil
}

// Search queries the provider for memories relevant to the user.
//
// If the first attempt yields zero results and attempts remain, Search
// sleeps (2^attempt)*3s (3s, then 6s) and retries — the data may simply not
// be indexed yet. On transport error the schedule is (2^attempt)*2s (2s,
// then 4s) with the same ceiling. After the ceiling, Search returns whatever
// the last attempt yielded; an empty result for a new user is not an error,
// and exhausted transport errors degrade to an empty result so the caller
// proceeds without memory context.
//
// Results owned by a different user than the requested one are dropped.
// Backoff sleeps are cancellable through ctx: a torn-down session cancels
// outstanding retries without mutating any state.
func (c *Client) Search(ctx context.Context, query, userID string, limit, maxRetries int) ([]Record, error) {
	if query == "" {
		query = DefaultQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	if records, ok := c.cache.get(userID); ok {
		slog.Debug("memory: search served from cache", "user", userID, "count", len(records))
		return records, nil
	}

	for attempt := 0; ; attempt++ {
		records, err := c.searchOnce(ctx, query, userID, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= maxRetries {
				slog.Warn("memory: search failed after retries", "user", userID, "err", err)
				return nil, nil
			}
			wait := errorBackoffBase * (1 << attempt)
			slog.Debug("memory: search error, backing off", "wait", wait, "attempt", attempt+1, "err", err)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		records = filterOwner(records, userID)
		if len(records) > 0 {
			c.cache.put(userID, records)
			return records, nil
		}

		if attempt >= maxRetries {
			// Absence of memories for a new user is normal.
			return nil, nil
		}
		wait := emptyBackoffBase * (1 << attempt)
		slog.Debug("memory: no results yet, backing off", "wait", wait, "attempt", attempt+1)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// searchOnce performs a single provider query.
func (c *Client) searchOnce(ctx context.Context, query, userID string, limit int) ([]Record, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("user_id", userID)
	params.Set("limit", strconv.Itoa(limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/memories/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("memory: build search request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("memory: search: provider returned %d: %s", resp.StatusCode, msg)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("memory: read search response: %w", err)
	}
	return decodeSearchResponse(data)
}

// decodeSearchResponse accepts both response shapes the provider emits:
// a bare array or an object wrapping a "results" array.
func decodeSearchResponse(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Results []Record `json:"results"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("memory: decode search response: %w", err)
	}
	return wrapped.Results, nil
}

// filterOwner drops records tagged with a different owning user. Untagged
// records pass: legacy data predates owner tagging.
func filterOwner(records []Record, userID string) []Record {
	out := records[:0]
	for _, r := range records {
		owner := r.UserID
		if owner == "" {
			if v, ok := r.Metadata["user_id"].(string); ok {
				owner = v
			}
		}
		if owner == "" || owner == userID {
			out = append(out, r)
		} else {
			slog.Warn("memory: dropped record with mismatched owner", "owner", owner, "want", userID)
		}
	}
	return out
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
