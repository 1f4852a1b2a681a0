package gleam

import (
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a server-reported error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ============================================================================
// Delivery State
// ============================================================================

// DeliveryState is the lifecycle state of an outgoing message.
// Transitions are unidirectional: sending → sent → delivered → read.
type DeliveryState string

const (
	StateSending   DeliveryState = "sending"
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

var stateRank = map[DeliveryState]int{
	StateSending:   0,
	StateSent:      1,
	StateDelivered: 2,
	StateRead:      3,
}

// Advances reports whether moving from s to next is a forward transition.
func (s DeliveryState) Advances(next DeliveryState) bool {
	return stateRank[next] > stateRank[s]
}

// ============================================================================
// Messaging Types
// ============================================================================

// Message is one entry in a 1:1 conversation timeline.
// ID is server-assigned and globally unique per conversation; a client-origin
// message carries a "tmp-" prefixed id until reconciled.
type Message struct {
	ID              string        `json:"id"`
	ConversationKey string        `json:"conversationKey"`
	SenderID        string        `json:"senderId"`
	RecipientID     string        `json:"recipientId"`
	Content         string        `json:"content"`
	CreatedAt       time.Time     `json:"createdAt"`
	ReadAt          *time.Time    `json:"readAt,omitempty"`
	State           DeliveryState `json:"state,omitempty"`
}

// ConversationKey returns the canonical key for the unordered (a, b) user
// pair: the lexicographically smaller id first, joined with ":".
func ConversationKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// ConversationSummary is one inbox row.
type ConversationSummary struct {
	OtherUserID     string    `json:"otherUserId"`
	OtherUserName   string    `json:"otherUserName"`
	OtherUserAvatar string    `json:"otherUserAvatar,omitempty"`
	LastMessage     string    `json:"lastMessage"`
	LastSenderID    string    `json:"lastSenderId"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	UnreadCount     int       `json:"unreadCount"`
}

// UnreadCount is the response of the unread-count endpoint.
type UnreadCount struct {
	Count int `json:"count"`
}

// SendRequest is the body of the send endpoint.
type SendRequest struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// ============================================================================
// Notification Types
// ============================================================================

// NotificationCategory classifies cross-feature alerts.
type NotificationCategory string

const (
	CategoryMessage NotificationCategory = "message"
	CategoryOrder   NotificationCategory = "order"
	CategorySocial  NotificationCategory = "social"
	CategorySystem  NotificationCategory = "system"
)

// Notification is one entry in the user-scoped alert log.
// Two entries with the same non-empty Deeplink and the same Message are
// considered duplicates even when their ids differ.
type Notification struct {
	ID        string               `json:"id"`
	Title     string               `json:"title,omitempty"`
	Message   string               `json:"message"`
	Timestamp string               `json:"timestamp"`
	Read      bool                 `json:"read"`
	Category  NotificationCategory `json:"category"`
	Deeplink  string               `json:"deeplink,omitempty"`
	Data      map[string]any       `json:"data,omitempty"`
}
