package gleam

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is the fallback poll cadence when none is configured.
const DefaultPollInterval = 3 * time.Second

// PushSource is the subset of the push channel a scheduler subscribes to.
// Registration returns a removal handle; deterministic removal on Stop is a
// correctness requirement, not a resource optimization: a leaked listener
// keeps merging into a stale store.
type PushSource interface {
	OnNewMessage(func(NewMessagePayload)) func()
	OnTyping(func(TypingPayload)) func()
	OnReadReceipt(func(ReadReceiptPayload)) func()
}

// ============================================================================
// SyncScheduler
// ============================================================================

// SyncScheduler keeps one conversation's MessageStore current using two
// redundant channels: real-time push events and a timer-based incremental
// poll. Both feed the same Merge entry point, so ordering between them is
// irrelevant to correctness; only the deduplicated union matters.
type SyncScheduler struct {
	client       *Client
	store        *MessageStore
	otherUserID  string
	key          string
	pollInterval time.Duration
	logger       *slog.Logger
	push         PushSource

	onTyping      func(TypingPayload)
	onReadReceipt func(conversationKey string)
	onUpdate      func()

	now func() time.Time

	mu      sync.Mutex
	cursor  time.Time
	cancel  context.CancelFunc
	unsubs  []func()
	started bool
	wg      sync.WaitGroup
}

type SchedulerOption func(*SyncScheduler)

// WithPollInterval overrides the poll cadence.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *SyncScheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithSchedulerLogger sets the scheduler's logger. Defaults to slog.Default().
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *SyncScheduler) { s.logger = l }
}

// WithPushSource binds the scheduler to a shared push channel. Without one,
// the scheduler runs poll-only.
func WithPushSource(p PushSource) SchedulerOption {
	return func(s *SyncScheduler) { s.push = p }
}

// WithTypingCallback forwards ephemeral typing events. They are never
// stored; auto-expiry is the callback owner's responsibility.
func WithTypingCallback(fn func(TypingPayload)) SchedulerOption {
	return func(s *SyncScheduler) { s.onTyping = fn }
}

// WithReadReceiptCallback forwards read receipts for this conversation,
// typically to OptimisticSendManager.ApplyReadReceipt.
func WithReadReceiptCallback(fn func(conversationKey string)) SchedulerOption {
	return func(s *SyncScheduler) { s.onReadReceipt = fn }
}

// WithUpdateCallback is fired after any merge that inserted at least one
// message, typically to invalidate the ConversationIndex or redraw.
func WithUpdateCallback(fn func()) SchedulerOption {
	return func(s *SyncScheduler) { s.onUpdate = fn }
}

// NewSyncScheduler creates a scheduler bound to one conversation.
func NewSyncScheduler(client *Client, store *MessageStore, otherUserID string, opts ...SchedulerOption) *SyncScheduler {
	s := &SyncScheduler{
		client:       client,
		store:        store,
		otherUserID:  otherUserID,
		key:          ConversationKey(client.UserID(), otherUserID),
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConversationKey returns the key the scheduler is bound to.
func (s *SyncScheduler) ConversationKey() string { return s.key }

// Cursor returns the current poll cursor.
func (s *SyncScheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// LoadHistory performs the initial bulk fetch and merges it into the store.
func (s *SyncScheduler) LoadHistory(ctx context.Context, limit int) (int, error) {
	msgs, err := s.client.History(ctx, s.otherUserID, limit)
	if err != nil {
		return 0, err
	}
	inserted := s.store.Merge(msgs)
	if inserted > 0 {
		s.fireUpdate()
	}
	return inserted, nil
}

// Start initializes the cursor to the current time, subscribes to the push
// channel, and starts the poll loop. Calling Start on a running scheduler is
// a no-op.
func (s *SyncScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.cursor = s.now().UTC()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.push != nil {
		s.unsubs = append(s.unsubs,
			s.push.OnNewMessage(s.handlePushMessage),
			s.push.OnTyping(s.handleTyping),
			s.push.OnReadReceipt(s.handleReadReceipt),
		)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pollLoop(loopCtx)
}

// Stop tears the scheduler down deterministically: the poll ticker is
// stopped and every push listener is removed. Stop is idempotent and safe to
// call from any goroutine.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	s.wg.Wait()
}

// ── Push channel ──────────────────────────────────────────

// handlePushMessage filters out events for other conversations before
// merging. Filtering prevents cross-conversation leakage when multiple
// schedulers share one process-wide push connection.
func (s *SyncScheduler) handlePushMessage(p NewMessagePayload) {
	if p.Message.ConversationKey != s.key {
		return
	}
	if s.store.Merge([]Message{p.Message}) > 0 {
		s.fireUpdate()
	}
}

func (s *SyncScheduler) handleTyping(p TypingPayload) {
	if p.UserID != s.otherUserID {
		return
	}
	if s.onTyping != nil {
		s.onTyping(p)
	}
}

func (s *SyncScheduler) handleReadReceipt(p ReadReceiptPayload) {
	if p.ConversationKey != s.key {
		return
	}
	if s.onReadReceipt != nil {
		s.onReadReceipt(p.ConversationKey)
	}
}

// ── Poll channel ──────────────────────────────────────────

func (s *SyncScheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce fetches everything newer than the cursor. Errors are logged and
// swallowed; the next tick retries, which makes the poll self-healing. The
// id check in Merge is the backstop against re-delivery from either channel.
func (s *SyncScheduler) pollOnce(ctx context.Context) {
	since := s.Cursor()

	msgs, err := s.client.NewSince(ctx, s.otherUserID, since)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("poll fetch failed", "conversation", s.key, "error", err)
		}
		return
	}
	if len(msgs) == 0 {
		return
	}

	inserted := s.store.Merge(msgs)
	s.advanceCursor(msgs[len(msgs)-1].CreatedAt)
	if inserted > 0 {
		s.fireUpdate()
	}
}

// advanceCursor moves the cursor forward only. Responses arriving out of
// order can never rewind it, so the same range is not re-fetched forever.
func (s *SyncScheduler) advanceCursor(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.cursor) {
		s.cursor = t
	}
}

func (s *SyncScheduler) fireUpdate() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
