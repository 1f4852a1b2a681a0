package gleam

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NotificationCap is the maximum number of entries kept per user; the
// oldest entries beyond it are evicted.
const NotificationCap = 200

// ============================================================================
// NotificationStore
// ============================================================================

// NotificationStore is a persisted, user-scoped alert log with live
// observers, independent of the messaging system. It applies the same
// discipline as the message timeline: idempotent dedupe, stable descending
// order, bounded growth.
//
// The store is an explicit instance passed to the features that need it;
// there is no package-level singleton. Every mutation is a single
// read-modify-write of the persisted payload; concurrent stores on the same
// backend race last-writer-wins, which is acceptable because the
// dedupe/cap pass is idempotent and observers always receive the full list.
type NotificationStore struct {
	storage NotificationStorage
	userID  string
	logger  *slog.Logger

	mu      sync.Mutex
	subs    map[int]func([]Notification)
	nextSub int
}

type NotificationStoreOption func(*NotificationStore)

// WithNotificationLogger sets the store's logger. Defaults to slog.Default().
func WithNotificationLogger(l *slog.Logger) NotificationStoreOption {
	return func(ns *NotificationStore) { ns.logger = l }
}

// NewNotificationStore creates a store scoped to one user on the given
// backend.
func NewNotificationStore(storage NotificationStorage, userID string, opts ...NotificationStoreOption) *NotificationStore {
	ns := &NotificationStore{
		storage: storage,
		userID:  userID,
		logger:  slog.Default(),
		subs:    make(map[int]func([]Notification)),
	}
	for _, opt := range opts {
		opt(ns)
	}
	return ns
}

// Subscribe registers an observer and returns its removal handle. Observers
// are called synchronously with the full sorted list after every mutation;
// the slice is a snapshot and must not be mutated.
func (ns *NotificationStore) Subscribe(fn func([]Notification)) func() {
	ns.mu.Lock()
	ns.nextSub++
	id := ns.nextSub
	ns.subs[id] = fn
	ns.mu.Unlock()
	return func() {
		ns.mu.Lock()
		delete(ns.subs, id)
		ns.mu.Unlock()
	}
}

// List returns the current persisted list, newest first. A corrupt payload
// reads as empty.
func (ns *NotificationStore) List(ctx context.Context) ([]Notification, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.load(ctx)
}

// Add appends a notification to the log. A blank id is assigned; a blank
// timestamp is set to now. When the entry duplicates an existing one (same
// id, or same non-empty deeplink with the same message) the call is a
// no-op and returns false. Otherwise the entry is prepended, the list is
// re-sorted newest first, truncated to NotificationCap, persisted, and
// every subscriber is notified.
func (ns *NotificationStore) Add(ctx context.Context, n Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp == "" {
		n.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	ns.mu.Lock()
	list, err := ns.load(ctx)
	if err != nil {
		ns.mu.Unlock()
		return false, err
	}

	for _, existing := range list {
		if existing.ID == n.ID {
			ns.mu.Unlock()
			return false, nil
		}
		if n.Deeplink != "" && existing.Deeplink == n.Deeplink && existing.Message == n.Message {
			ns.mu.Unlock()
			return false, nil
		}
	}

	list = append([]Notification{n}, list...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
	if len(list) > NotificationCap {
		list = list[:NotificationCap]
	}

	if err := ns.save(ctx, list); err != nil {
		ns.mu.Unlock()
		return false, err
	}
	subs := ns.snapshotSubs()
	ns.mu.Unlock()

	ns.emit(subs, list)
	return true, nil
}

// MarkRead flags one entry as read, persists, and notifies.
func (ns *NotificationStore) MarkRead(ctx context.Context, id string) error {
	return ns.mutate(ctx, func(list []Notification) []Notification {
		for i := range list {
			if list[i].ID == id {
				list[i].Read = true
			}
		}
		return list
	})
}

// MarkAllRead flags every entry as read, persists, and notifies.
func (ns *NotificationStore) MarkAllRead(ctx context.Context) error {
	return ns.mutate(ctx, func(list []Notification) []Notification {
		for i := range list {
			list[i].Read = true
		}
		return list
	})
}

// ClearAll empties the log, persists, and notifies with an empty list.
// There is no per-item removal.
func (ns *NotificationStore) ClearAll(ctx context.Context) error {
	ns.mu.Lock()
	if err := ns.save(ctx, []Notification{}); err != nil {
		ns.mu.Unlock()
		return err
	}
	subs := ns.snapshotSubs()
	ns.mu.Unlock()

	ns.emit(subs, nil)
	return nil
}

// UnreadCount returns the number of unread entries.
func (ns *NotificationStore) UnreadCount(ctx context.Context) (int, error) {
	list, err := ns.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range list {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

// ── internals ─────────────────────────────────────────────

func (ns *NotificationStore) mutate(ctx context.Context, fn func([]Notification) []Notification) error {
	ns.mu.Lock()
	list, err := ns.load(ctx)
	if err != nil {
		ns.mu.Unlock()
		return err
	}
	list = fn(list)
	if err := ns.save(ctx, list); err != nil {
		ns.mu.Unlock()
		return err
	}
	subs := ns.snapshotSubs()
	ns.mu.Unlock()

	ns.emit(subs, list)
	return nil
}

// load maps a corrupt payload to the empty list; that is the documented
// recovery path, not an error the caller has to handle.
func (ns *NotificationStore) load(ctx context.Context) ([]Notification, error) {
	list, err := ns.storage.Load(ctx, ns.userID)
	if err != nil {
		if errors.Is(err, ErrCorruptPayload) {
			ns.logger.Warn("discarding corrupt notification payload", "user", ns.userID)
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

func (ns *NotificationStore) save(ctx context.Context, list []Notification) error {
	return ns.storage.Save(ctx, ns.userID, list)
}

// snapshotSubs must be called with ns.mu held.
func (ns *NotificationStore) snapshotSubs() []func([]Notification) {
	subs := make([]func([]Notification), 0, len(ns.subs))
	for _, fn := range ns.subs {
		subs = append(subs, fn)
	}
	return subs
}

// emit runs outside the store lock so observers may read the store back.
func (ns *NotificationStore) emit(subs []func([]Notification), list []Notification) {
	snapshot := make([]Notification, len(list))
	copy(snapshot, list)
	for _, fn := range subs {
		fn(snapshot)
	}
}
