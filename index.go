package gleam

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// ============================================================================
// ConversationIndex
// ============================================================================

// ConversationIndex caches inbox-level summaries so the list screen does not
// re-derive them from full message history on every render. The cache is
// marked stale by send/receive/mark-read activity and refetched lazily on
// the next Summaries call.
type ConversationIndex struct {
	client *Client
	logger *slog.Logger

	mu         sync.Mutex
	summaries  []ConversationSummary
	stale      bool
	activeUser string
	markedRead map[string]bool
}

type IndexOption func(*ConversationIndex)

// WithIndexLogger sets the index logger. Defaults to slog.Default().
func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(ix *ConversationIndex) { ix.logger = l }
}

// NewConversationIndex creates an index for the client's user.
func NewConversationIndex(client *Client, opts ...IndexOption) *ConversationIndex {
	ix := &ConversationIndex{
		client:     client,
		logger:     slog.Default(),
		stale:      true,
		markedRead: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Summaries returns the cached inbox rows, refetching from the server when
// the cache is stale. Rows are sorted descending by LastMessageAt.
func (ix *ConversationIndex) Summaries(ctx context.Context) ([]ConversationSummary, error) {
	ix.mu.Lock()
	if !ix.stale {
		out := make([]ConversationSummary, len(ix.summaries))
		copy(out, ix.summaries)
		ix.mu.Unlock()
		return out, nil
	}
	ix.mu.Unlock()

	fresh, err := ix.client.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].LastMessageAt.After(fresh[j].LastMessageAt)
	})

	ix.mu.Lock()
	ix.summaries = fresh
	ix.stale = false
	out := make([]ConversationSummary, len(fresh))
	copy(out, fresh)
	ix.mu.Unlock()
	return out, nil
}

// Invalidate marks the cache stale. Cheap to call; the refetch happens on
// the next Summaries call.
func (ix *ConversationIndex) Invalidate() {
	ix.mu.Lock()
	ix.stale = true
	ix.mu.Unlock()
}

// SetActive records which conversation is open. Inbound messages for the
// active conversation do not bump its unread count, and re-opening arms the
// once-per-open mark-read guard again.
func (ix *ConversationIndex) SetActive(otherUserID string) {
	ix.mu.Lock()
	ix.activeUser = otherUserID
	delete(ix.markedRead, otherUserID)
	ix.mu.Unlock()
}

// ClearActive records that no conversation is open.
func (ix *ConversationIndex) ClearActive() {
	ix.mu.Lock()
	ix.activeUser = ""
	ix.mu.Unlock()
}

// ApplyIncoming folds one inbound message into the cached summaries without
// waiting for a refetch. The unread count bumps only for messages authored
// by someone else while their conversation is not the active one; it can
// never go below zero because the only reset path is MarkRead.
func (ix *ConversationIndex) ApplyIncoming(msg Message) {
	self := ix.client.UserID()
	other := msg.SenderID
	if other == self {
		other = msg.RecipientID
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx := -1
	for i := range ix.summaries {
		if ix.summaries[i].OtherUserID == other {
			idx = i
			break
		}
	}
	if idx < 0 {
		ix.summaries = append(ix.summaries, ConversationSummary{OtherUserID: other})
		idx = len(ix.summaries) - 1
	}

	s := &ix.summaries[idx]
	if msg.CreatedAt.After(s.LastMessageAt) {
		s.LastMessage = msg.Content
		s.LastSenderID = msg.SenderID
		s.LastMessageAt = msg.CreatedAt
	}
	if msg.SenderID != self && other != ix.activeUser {
		s.UnreadCount++
	}

	sort.SliceStable(ix.summaries, func(i, j int) bool {
		return ix.summaries[i].LastMessageAt.After(ix.summaries[j].LastMessageAt)
	})
	ix.stale = true
}

// MarkRead zeroes the unread count for one conversation locally and issues
// the server mark-read call. The call is deduplicated per conversation-open:
// the second MarkRead after the same SetActive is a local no-op.
func (ix *ConversationIndex) MarkRead(ctx context.Context, otherUserID string) error {
	ix.mu.Lock()
	already := ix.markedRead[otherUserID]
	ix.markedRead[otherUserID] = true
	for i := range ix.summaries {
		if ix.summaries[i].OtherUserID == otherUserID {
			ix.summaries[i].UnreadCount = 0
		}
	}
	ix.mu.Unlock()

	if already {
		return nil
	}

	if err := ix.client.MarkConversationRead(ctx, otherUserID); err != nil {
		ix.logger.Warn("mark read failed", "otherUser", otherUserID, "error", err)
		return err
	}
	ix.Invalidate()
	return nil
}

// UnreadTotal fetches the server-side total across all conversations.
func (ix *ConversationIndex) UnreadTotal(ctx context.Context) (int, error) {
	res, err := ix.client.UnreadTotal(ctx)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}
