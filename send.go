package gleam

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// OptimisticSendManager
// ============================================================================

// OptimisticSendManager creates a provisional message entry on send, tracks
// its delivery lifecycle, and reconciles it with the server-confirmed entry.
//
// A failed send is left visible in the store and forced to StateSent rather
// than rolled back; the error is still returned to the caller.
type OptimisticSendManager struct {
	client      *Client
	store       *MessageStore
	otherUserID string
	logger      *slog.Logger
	onActivity  func()
}

type SendManagerOption func(*OptimisticSendManager)

// WithSendLogger sets the manager's logger. Defaults to slog.Default().
func WithSendLogger(l *slog.Logger) SendManagerOption {
	return func(m *OptimisticSendManager) { m.logger = l }
}

// WithActivityHook registers a hook fired after every send attempt,
// typically ConversationIndex.Invalidate.
func WithActivityHook(fn func()) SendManagerOption {
	return func(m *OptimisticSendManager) { m.onActivity = fn }
}

// NewOptimisticSendManager creates a send manager bound to one conversation.
func NewOptimisticSendManager(client *Client, store *MessageStore, otherUserID string, opts ...SendManagerOption) *OptimisticSendManager {
	m := &OptimisticSendManager{
		client:      client,
		store:       store,
		otherUserID: otherUserID,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send inserts a provisional message with a temporary id and StateSending,
// then issues the network send. On success the temp entry is replaced
// in place by the canonical server message in StateSent. On failure the
// entry stays visible, its state is forced to StateSent, and the error is
// returned.
//
// The optimistic insert happens before any network I/O, so concurrent
// readers of the store see the new bubble immediately.
func (m *OptimisticSendManager) Send(ctx context.Context, content string) (Message, error) {
	tempID := "tmp-" + uuid.NewString()
	temp := Message{
		ID:              tempID,
		ConversationKey: ConversationKey(m.client.UserID(), m.otherUserID),
		SenderID:        m.client.UserID(),
		RecipientID:     m.otherUserID,
		Content:         content,
		CreatedAt:       time.Now().UTC(),
		State:           StateSending,
	}
	m.store.Merge([]Message{temp})

	defer func() {
		if m.onActivity != nil {
			m.onActivity()
		}
	}()

	srv, err := m.client.Send(ctx, m.otherUserID, content)
	if err != nil {
		m.logger.Warn("send failed, keeping optimistic entry",
			"recipient", m.otherUserID, "tempId", tempID, "error", err)
		m.store.Update(tempID, func(msg *Message) { msg.State = StateSent })
		temp.State = StateSent
		return temp, err
	}

	final := *srv
	if final.ConversationKey == "" {
		final.ConversationKey = temp.ConversationKey
	}
	final.State = StateSent
	m.store.Replace(tempID, final)
	return final, nil
}

// ApplyDeliveryAck advances a message to StateDelivered. Backward
// transitions are ignored.
func (m *OptimisticSendManager) ApplyDeliveryAck(messageID string) {
	m.store.Update(messageID, func(msg *Message) {
		if msg.State.Advances(StateDelivered) {
			msg.State = StateDelivered
		}
	})
}

// ApplyReadReceipt advances every own message in the conversation to
// StateRead. Receipts for other conversations are ignored.
func (m *OptimisticSendManager) ApplyReadReceipt(conversationKey string) {
	if conversationKey != ConversationKey(m.client.UserID(), m.otherUserID) {
		return
	}
	now := time.Now().UTC()
	m.store.UpdateAll(func(msg *Message) {
		if msg.SenderID != m.client.UserID() {
			return
		}
		if msg.State.Advances(StateRead) {
			msg.State = StateRead
			if msg.ReadAt == nil {
				t := now
				msg.ReadAt = &t
			}
		}
	})
}
