package gleam

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// indexServer serves conversation summaries and counts mark-read calls.
type indexServer struct {
	mu        sync.Mutex
	summaries []ConversationSummary
	readCalls map[string]int
	fetches   int
}

func newIndexServer(summaries []ConversationSummary) (*indexServer, *httptest.Server) {
	is := &indexServer{summaries: summaries, readCalls: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/messaging/conversations" && r.Method == "GET":
			is.mu.Lock()
			is.fetches++
			out := is.summaries
			is.mu.Unlock()
			json.NewEncoder(w).Encode(out)
		case r.Method == "POST":
			// /messaging/conversations/{other}/read
			is.mu.Lock()
			is.readCalls[r.URL.Path]++
			is.mu.Unlock()
			w.Write([]byte(`{}`))
		case r.URL.Path == "/messaging/unread-count":
			json.NewEncoder(w).Encode(UnreadCount{Count: 7})
		default:
			http.NotFound(w, r)
		}
	}))
	return is, srv
}

func TestConversationIndexSummaries(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is, srv := newIndexServer([]ConversationSummary{
		{OtherUserID: "bob", LastMessageAt: base},
		{OtherUserID: "carol", LastMessageAt: base.Add(time.Hour)},
	})
	defer srv.Close()

	client := NewClient("alice", "token", WithBaseURL(srv.URL))
	ix := NewConversationIndex(client)

	got, err := ix.Summaries(context.Background())
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if got[0].OtherUserID != "carol" {
		t.Fatalf("first row %s, want carol (most recent first)", got[0].OtherUserID)
	}

	// Second call is served from cache.
	if _, err := ix.Summaries(context.Background()); err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if is.fetches != 1 {
		t.Fatalf("server fetched %d times, want 1", is.fetches)
	}

	ix.Invalidate()
	if _, err := ix.Summaries(context.Background()); err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if is.fetches != 2 {
		t.Fatalf("server fetched %d times after Invalidate, want 2", is.fetches)
	}
}

func TestConversationIndexApplyIncoming(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, srv := newIndexServer([]ConversationSummary{
		{OtherUserID: "bob", LastMessage: "old", LastMessageAt: base, UnreadCount: 1},
	})
	defer srv.Close()

	client := NewClient("alice", "token", WithBaseURL(srv.URL))

	t.Run("inbound bumps unread and reorders", func(t *testing.T) {
		ix := NewConversationIndex(client)
		ix.Summaries(context.Background())

		ix.ApplyIncoming(mkMsg("m1", "carol", "alice", "hey", base.Add(time.Hour)))
		rows := snapshotRows(ix)
		if rows[0].OtherUserID != "carol" {
			t.Fatalf("first row %s, want carol", rows[0].OtherUserID)
		}
		if rows[0].UnreadCount != 1 {
			t.Fatalf("carol unread %d, want 1", rows[0].UnreadCount)
		}
	})

	t.Run("own outbound never bumps unread", func(t *testing.T) {
		ix := NewConversationIndex(client)
		ix.Summaries(context.Background())

		ix.ApplyIncoming(mkMsg("m2", "alice", "bob", "reply", base.Add(time.Hour)))
		rows := snapshotRows(ix)
		if rows[0].UnreadCount != 1 {
			t.Fatalf("bob unread %d, want 1 unchanged", rows[0].UnreadCount)
		}
		if rows[0].LastMessage != "reply" {
			t.Fatalf("preview %q, want reply", rows[0].LastMessage)
		}
	})

	t.Run("active conversation does not bump", func(t *testing.T) {
		ix := NewConversationIndex(client)
		ix.Summaries(context.Background())
		ix.SetActive("bob")

		ix.ApplyIncoming(mkMsg("m3", "bob", "alice", "while open", base.Add(time.Hour)))
		rows := snapshotRows(ix)
		if rows[0].UnreadCount != 1 {
			t.Fatalf("bob unread %d, want 1 unchanged while active", rows[0].UnreadCount)
		}

		ix.ClearActive()
		ix.ApplyIncoming(mkMsg("m4", "bob", "alice", "after close", base.Add(2*time.Hour)))
		rows = snapshotRows(ix)
		if rows[0].UnreadCount != 2 {
			t.Fatalf("bob unread %d, want 2 after ClearActive", rows[0].UnreadCount)
		}
	})

	t.Run("stale timestamp keeps newer preview", func(t *testing.T) {
		ix := NewConversationIndex(client)
		ix.Summaries(context.Background())

		ix.ApplyIncoming(mkMsg("m5", "bob", "alice", "ancient", base.Add(-time.Hour)))
		rows := snapshotRows(ix)
		if rows[0].LastMessage != "old" {
			t.Fatalf("preview %q, want old kept", rows[0].LastMessage)
		}
	})
}

func TestConversationIndexMarkRead(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is, srv := newIndexServer([]ConversationSummary{
		{OtherUserID: "bob", LastMessageAt: base, UnreadCount: 3},
	})
	defer srv.Close()

	client := NewClient("alice", "token", WithBaseURL(srv.URL))
	ix := NewConversationIndex(client)
	ix.Summaries(context.Background())
	ix.SetActive("bob")

	if err := ix.MarkRead(context.Background(), "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if rows := snapshotRows(ix); rows[0].UnreadCount != 0 {
		t.Fatalf("unread %d after MarkRead, want 0", rows[0].UnreadCount)
	}

	// Second call in the same open is deduplicated.
	if err := ix.MarkRead(context.Background(), "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := is.readCalls["/messaging/conversations/bob/read"]; got != 1 {
		t.Fatalf("server mark-read called %d times, want 1", got)
	}

	// Re-opening arms the guard again.
	ix.SetActive("bob")
	if err := ix.MarkRead(context.Background(), "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := is.readCalls["/messaging/conversations/bob/read"]; got != 2 {
		t.Fatalf("server mark-read called %d times after reopen, want 2", got)
	}
}

func TestConversationIndexUnreadTotal(t *testing.T) {
	_, srv := newIndexServer(nil)
	defer srv.Close()

	client := NewClient("alice", "token", WithBaseURL(srv.URL))
	ix := NewConversationIndex(client)
	n, err := ix.UnreadTotal(context.Background())
	if err != nil {
		t.Fatalf("UnreadTotal: %v", err)
	}
	if n != 7 {
		t.Fatalf("unread total %d, want 7", n)
	}
}

// snapshotRows reads the cached rows without triggering a refetch.
func snapshotRows(ix *ConversationIndex) []ConversationSummary {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]ConversationSummary, len(ix.summaries))
	copy(out, ix.summaries)
	return out
}
