package gleam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultNotificationDBFile is the SQLite filename under the app data dir.
const DefaultNotificationDBFile = "notifications.db"

// ErrCorruptPayload is returned by a storage backend when the persisted
// notification payload does not decode. Callers map it to the empty list;
// surfacing it as a typed error keeps the fallback visible instead of
// burying it in a parse catch-all.
var ErrCorruptPayload = errors.New("corrupt notification payload")

// NotificationStorage persists one notification list per user id as a
// single JSON payload. Mutations are whole-list read-modify-write.
type NotificationStorage interface {
	Load(ctx context.Context, userID string) ([]Notification, error)
	Save(ctx context.Context, userID string, list []Notification) error
	Close() error
}

// ============================================================================
// SQLite storage
// ============================================================================

var notificationMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS notification_logs (
  user_id    TEXT PRIMARY KEY,
  payload    TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`,
}

// SQLiteStorage stores each user's notification log as one JSON blob row.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens (or creates) notifications.db under the given
// data directory and applies migrations.
func OpenSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return OpenSQLiteStoragePath(filepath.Join(dataDir, DefaultNotificationDBFile))
}

// OpenSQLiteStoragePath opens SQLite at an explicit path.
func OpenSQLiteStoragePath(dbPath string) (*SQLiteStorage, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	for _, migration := range notificationMigrations {
		if _, err := db.Exec(migration); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migration: %w", err)
		}
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Load(ctx context.Context, userID string) ([]Notification, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM notification_logs WHERE user_id = ?`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}

	var list []Notification
	if err := json.Unmarshal([]byte(payload), &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return list, nil
}

func (s *SQLiteStorage) Save(ctx context.Context, userID string, list []Notification) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO notification_logs (user_id, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		userID, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save notifications: %w", err)
	}
	return nil
}

// Close closes the SQLite connection.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ============================================================================
// Memory storage
// ============================================================================

// MemoryStorage is a goroutine-safe in-memory NotificationStorage, useful
// for tests and ephemeral sessions. It round-trips through JSON so corrupt
// payload handling is exercised the same way as the SQLite backend.
type MemoryStorage struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{payloads: make(map[string][]byte)}
}

func (s *MemoryStorage) Load(_ context.Context, userID string) ([]Notification, error) {
	s.mu.RLock()
	payload, ok := s.payloads[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var list []Notification
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return list, nil
}

func (s *MemoryStorage) Save(_ context.Context, userID string, list []Notification) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}
	s.mu.Lock()
	s.payloads[userID] = payload
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Close() error { return nil }
