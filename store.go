package gleam

import (
	"sort"
	"sync"
)

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore holds the ordered, deduplicated message list for one open
// conversation. Merge is idempotent and commutative over its input batches,
// which is what makes feeding it from both the poll and the push channel
// safe: only the union matters, not the arrival order.
//
// The store is goroutine-safe. It never caps the list; history growth is
// bounded by the fetch window upstream.
type MessageStore struct {
	mu   sync.RWMutex
	list []Message
	ids  map[string]struct{}
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		ids: make(map[string]struct{}),
	}
}

// Merge folds a batch of messages into the store. Messages whose id is
// already present are skipped; the rest are appended and the list is
// re-sorted ascending by CreatedAt with a stable sort, so ties keep their
// relative arrival order. Returns the number of messages inserted.
func (s *MessageStore) Merge(incoming []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, m := range incoming {
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		s.ids[m.ID] = struct{}{}
		s.list = append(s.list, m)
		inserted++
	}

	if inserted > 0 {
		sort.SliceStable(s.list, func(i, j int) bool {
			return s.list[i].CreatedAt.Before(s.list[j].CreatedAt)
		})
	}
	return inserted
}

// Replace swaps the provisional entry identified by tempID for the
// server-confirmed message, preserving its position in the list so the
// sender's own bubble does not visibly reorder. If the final id is already
// present (the push channel can win the race), the temp entry is removed
// instead. Returns false when tempID is not in the store.
func (s *MessageStore) Replace(tempID string, final Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.list {
		if s.list[i].ID == tempID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	delete(s.ids, tempID)

	if _, dup := s.ids[final.ID]; dup {
		s.list = append(s.list[:idx], s.list[idx+1:]...)
		return true
	}

	s.ids[final.ID] = struct{}{}
	s.list[idx] = final
	return true
}

// Update applies fn to the message with the given id, if present.
// fn must not change the message id.
func (s *MessageStore) Update(id string, fn func(*Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID == id {
			fn(&s.list[i])
			return true
		}
	}
	return false
}

// UpdateAll applies fn to every message in the store.
func (s *MessageStore) UpdateAll(fn func(*Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		fn(&s.list[i])
	}
}

// Contains reports whether a message with the given id is in the store.
func (s *MessageStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Messages returns a copy of the current display-ordered list.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.list))
	copy(out, s.list)
	return out
}
