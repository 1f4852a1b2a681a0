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

// fakePushSource is an in-process PushSource that records registrations and
// lets tests inject events.
type fakePushSource struct {
	mu       sync.Mutex
	msgSubs  map[int]func(NewMessagePayload)
	typSubs  map[int]func(TypingPayload)
	readSubs map[int]func(ReadReceiptPayload)
	next     int
}

func newFakePushSource() *fakePushSource {
	return &fakePushSource{
		msgSubs:  make(map[int]func(NewMessagePayload)),
		typSubs:  make(map[int]func(TypingPayload)),
		readSubs: make(map[int]func(ReadReceiptPayload)),
	}
}

func (f *fakePushSource) OnNewMessage(h func(NewMessagePayload)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.msgSubs[id] = h
	return func() {
		f.mu.Lock()
		delete(f.msgSubs, id)
		f.mu.Unlock()
	}
}

func (f *fakePushSource) OnTyping(h func(TypingPayload)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.typSubs[id] = h
	return func() {
		f.mu.Lock()
		delete(f.typSubs, id)
		f.mu.Unlock()
	}
}

func (f *fakePushSource) OnReadReceipt(h func(ReadReceiptPayload)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.readSubs[id] = h
	return func() {
		f.mu.Lock()
		delete(f.readSubs, id)
		f.mu.Unlock()
	}
}

func (f *fakePushSource) emitMessage(p NewMessagePayload) {
	f.mu.Lock()
	hs := make([]func(NewMessagePayload), 0, len(f.msgSubs))
	for _, h := range f.msgSubs {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(p)
	}
}

func (f *fakePushSource) emitTyping(p TypingPayload) {
	f.mu.Lock()
	hs := make([]func(TypingPayload), 0, len(f.typSubs))
	for _, h := range f.typSubs {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(p)
	}
}

func (f *fakePushSource) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgSubs) + len(f.typSubs) + len(f.readSubs)
}

func TestSchedulerLoadHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	history := []Message{
		mkMsg("m2", "bob", "alice", "second", base.Add(time.Second)),
		mkMsg("m1", "alice", "bob", "first", base),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messaging/messages/bob" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "50" {
			t.Errorf("limit = %s, want 50", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode(history)
	}))
	defer server.Close()

	client := NewClient("alice", "token", WithBaseURL(server.URL))
	store := NewMessageStore()
	updated := 0
	sched := NewSyncScheduler(client, store, "bob",
		WithUpdateCallback(func() { updated++ }))

	n, err := sched.LoadHistory(context.Background(), 50)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if n != 2 || store.Len() != 2 {
		t.Fatalf("inserted %d / stored %d, want 2 / 2", n, store.Len())
	}
	if got := store.Messages()[0].ID; got != "m1" {
		t.Fatalf("first message %s, want m1 (re-sorted ascending)", got)
	}
	if updated != 1 {
		t.Fatalf("update callback fired %d times, want 1", updated)
	}
}

func TestSchedulerPollCursor(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	var response []Message
	var lastSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastSince = r.URL.Query().Get("since")
		out := response
		mu.Unlock()
		json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	client := NewClient("alice", "token", WithBaseURL(server.URL))
	store := NewMessageStore()
	sched := NewSyncScheduler(client, store, "bob", WithPollInterval(time.Hour))
	sched.now = func() time.Time { return base }

	sched.Start(context.Background())
	defer sched.Stop()

	if !sched.Cursor().Equal(base) {
		t.Fatalf("initial cursor %v, want %v", sched.Cursor(), base)
	}

	t.Run("empty response leaves cursor", func(t *testing.T) {
		sched.pollOnce(context.Background())
		if !sched.Cursor().Equal(base) {
			t.Fatalf("cursor moved to %v on empty response", sched.Cursor())
		}
		mu.Lock()
		since := lastSince
		mu.Unlock()
		if since != base.Format(time.RFC3339Nano) {
			t.Fatalf("since param %q, want %q", since, base.Format(time.RFC3339Nano))
		}
	})

	t.Run("advances to last message timestamp", func(t *testing.T) {
		later := base.Add(5 * time.Second)
		mu.Lock()
		response = []Message{
			mkMsg("m1", "bob", "alice", "a", base.Add(2*time.Second)),
			mkMsg("m2", "bob", "alice", "b", later),
		}
		mu.Unlock()

		sched.pollOnce(context.Background())
		if !sched.Cursor().Equal(later) {
			t.Fatalf("cursor %v, want %v", sched.Cursor(), later)
		}
		if store.Len() != 2 {
			t.Fatalf("store has %d messages, want 2", store.Len())
		}
	})

	t.Run("never rewinds", func(t *testing.T) {
		before := sched.Cursor()
		mu.Lock()
		response = []Message{mkMsg("m0", "bob", "alice", "late arrival", base.Add(time.Second))}
		mu.Unlock()

		sched.pollOnce(context.Background())
		if !sched.Cursor().Equal(before) {
			t.Fatalf("cursor rewound from %v to %v", before, sched.Cursor())
		}
	})

	t.Run("fetch error keeps cursor and store", func(t *testing.T) {
		before := sched.Cursor()
		lenBefore := store.Len()
		badClient := NewClient("alice", "token", WithBaseURL("http://127.0.0.1:1"))
		sched.client = badClient
		sched.pollOnce(context.Background())
		if !sched.Cursor().Equal(before) || store.Len() != lenBefore {
			t.Fatal("failed poll mutated cursor or store")
		}
	})
}

func TestSchedulerPushRouting(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	client := NewClient("alice", "token")
	store := NewMessageStore()
	push := newFakePushSource()

	var typing []TypingPayload
	var receipts []string
	sched := NewSyncScheduler(client, store, "bob",
		WithPushSource(push),
		WithPollInterval(time.Hour),
		WithTypingCallback(func(p TypingPayload) { typing = append(typing, p) }),
		WithReadReceiptCallback(func(key string) { receipts = append(receipts, key) }),
	)
	sched.Start(context.Background())
	defer sched.Stop()

	key := ConversationKey("alice", "bob")

	t.Run("merges matching conversation", func(t *testing.T) {
		push.emitMessage(NewMessagePayload{Message: mkMsg("m1", "bob", "alice", "hi", base)})
		if !store.Contains("m1") {
			t.Fatal("matching push message not merged")
		}
	})

	t.Run("drops other conversations", func(t *testing.T) {
		other := mkMsg("m2", "carol", "alice", "hey", base)
		push.emitMessage(NewMessagePayload{Message: other})
		if store.Contains("m2") {
			t.Fatal("message for another conversation leaked into the store")
		}
	})

	t.Run("typing filtered by user", func(t *testing.T) {
		push.emitTyping(TypingPayload{UserID: "carol", IsTyping: true})
		push.emitTyping(TypingPayload{UserID: "bob", IsTyping: true})
		if len(typing) != 1 || typing[0].UserID != "bob" {
			t.Fatalf("typing callbacks %+v, want exactly bob", typing)
		}
	})

	t.Run("read receipt forwarded", func(t *testing.T) {
		f := push
		f.mu.Lock()
		hs := make([]func(ReadReceiptPayload), 0, len(f.readSubs))
		for _, h := range f.readSubs {
			hs = append(hs, h)
		}
		f.mu.Unlock()
		for _, h := range hs {
			h(ReadReceiptPayload{ConversationKey: "other:pair"})
			h(ReadReceiptPayload{ConversationKey: key})
		}
		if len(receipts) != 1 || receipts[0] != key {
			t.Fatalf("receipts %v, want exactly %q", receipts, key)
		}
	})
}

func TestSchedulerStop(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	client := NewClient("alice", "token")
	store := NewMessageStore()
	push := newFakePushSource()

	sched := NewSyncScheduler(client, store, "bob",
		WithPushSource(push),
		WithPollInterval(time.Hour),
	)

	sched.Start(context.Background())
	sched.Start(context.Background()) // idempotent
	if push.listenerCount() != 3 {
		t.Fatalf("%d listeners registered, want 3", push.listenerCount())
	}

	sched.Stop()
	sched.Stop() // idempotent
	if push.listenerCount() != 0 {
		t.Fatalf("%d listeners left after Stop, want 0", push.listenerCount())
	}

	push.emitMessage(NewMessagePayload{Message: mkMsg("m9", "bob", "alice", "late", base)})
	if store.Contains("m9") {
		t.Fatal("stopped scheduler still merged a push event")
	}

	// Restartable after Stop.
	sched.Start(context.Background())
	defer sched.Stop()
	if push.listenerCount() != 3 {
		t.Fatalf("%d listeners after restart, want 3", push.listenerCount())
	}
}
