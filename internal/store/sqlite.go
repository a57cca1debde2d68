// ABOUTME: SQLite implementation of ConversationStore using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Writes one checkpoint row per append and collapses them per thread when reading

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLite driver names accepted by NewSQLiteStoreWithDriver
const (
	DriverModernC = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCGO     = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// SQLiteStore implements ConversationStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(path, DriverModernC)
}

// NewSQLiteStoreWithDriver creates a SQLite store using the named database/sql driver.
// Use ":memory:" for a throwaway database.
func NewSQLiteStoreWithDriver(path, driver string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "backend", "sqlite", "driver", driver)

	memory := path == ":memory:"
	if !memory {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn, err := sqliteDSN(path, driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if memory {
		// Every pooled connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// sqliteDSN adds the per-connection pragmas each driver understands.
// synchronous=FULL makes a committed append survive a crash even in WAL mode.
func sqliteDSN(path, driver string) (string, error) {
	switch driver {
	case DriverModernC:
		return path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)", nil
	case DriverCGO:
		return path + "?_busy_timeout=5000&_synchronous=FULL", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			checkpoint_id TEXT NOT NULL UNIQUE,
			thread_id     TEXT NOT NULL,
			step          INTEGER NOT NULL,
			source        TEXT NOT NULL,
			payload       TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_seq
			ON checkpoints(thread_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Append inserts one checkpoint row for msg. The step is computed inside the
// INSERT so concurrent appends to the same thread never share a step.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, msg Message) error {
	if err := validateAppend(threadID, msg); err != nil {
		return err
	}

	cp := newCheckpoint(threadID, 0, msg)
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	query := `
		INSERT INTO checkpoints (checkpoint_id, thread_id, step, source, payload, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(step), -1) + 1 FROM checkpoints WHERE thread_id = ?), ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		cp.ID,
		threadID,
		threadID,
		cp.Source,
		string(payload),
		cp.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting checkpoint: %w", err)
	}

	s.logger.Debug("saved checkpoint",
		"checkpoint_id", cp.ID,
		"thread_id", threadID,
		"role", msg.Role,
	)
	return nil
}

// Load returns the thread's messages in insertion order, skipping rows whose
// payload cannot be replayed.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	query := `
		SELECT payload
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()

	var raw [][]byte
	for rows.Next() {
		var payload sql.NullString
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning checkpoint row: %w", err)
		}
		raw = append(raw, []byte(payload.String))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoint rows: %w", err)
	}

	return replay(s.logger, threadID, raw), nil
}

// ListThreads returns each thread once, ordered by its first checkpoint.
func (s *SQLiteStore) ListThreads(ctx context.Context) ([]string, error) {
	query := `
		SELECT thread_id
		FROM checkpoints
		GROUP BY thread_id
		ORDER BY MIN(seq) ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}

	return distinct(ids), nil
}

// Verify SQLiteStore implements ConversationStore at compile time.
var _ ConversationStore = (*SQLiteStore)(nil)
