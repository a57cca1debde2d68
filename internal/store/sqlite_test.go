// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers file creation, durability across reopen, checkpoint rows, and malformed row handling

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created in the nested directory
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Append(ctx, "t1", UserMessage("hi")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	msgs, err := store.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs))
	}
}

func TestNewSQLiteStore_UnsupportedDriver(t *testing.T) {
	_, err := NewSQLiteStoreWithDriver(filepath.Join(t.TempDir(), "x.db"), "postgres")
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.Append(ctx, "t1", UserMessage("Hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "t1", AssistantMessage("Hi there")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	msgs, err := reopened.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "Hello" || msgs[1].Content != "Hi there" {
		t.Errorf("unexpected messages after reopen: %+v", msgs)
	}

	ids, err := reopened.ListThreads(ctx)
	if err != nil {
		t.Fatalf("ListThreads failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "t1" {
		t.Errorf("ListThreads = %v, want [t1]", ids)
	}
}

func TestSQLiteStore_CheckpointRows(t *testing.T) {
	store := newTestSQLite(t, DriverModernC)
	ctx := context.Background()

	if err := store.Append(ctx, "t1", UserMessage("Hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, "t1", AssistantMessage("Hi there")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rows, err := store.db.QueryContext(ctx,
		`SELECT step, source FROM checkpoints WHERE thread_id = ? ORDER BY seq`, "t1")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	type row struct {
		step   int
		source string
	}
	var got []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.step, &r.source); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		got = append(got, r)
	}

	want := []row{{0, SourceInput}, {1, SourceLoop}}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSQLiteStore_LoadSkipsMalformedRows(t *testing.T) {
	store := newTestSQLite(t, DriverModernC)
	ctx := context.Background()

	insertRaw := func(id, payload string) {
		t.Helper()
		_, err := store.db.ExecContext(ctx,
			`INSERT INTO checkpoints (checkpoint_id, thread_id, step, source, payload, created_at)
			 VALUES (?, 't1', 0, 'input', ?, ?)`,
			id, payload, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			t.Fatalf("raw insert failed: %v", err)
		}
	}

	if err := store.Append(ctx, "t1", UserMessage("first")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	insertRaw("bad-1", "{not json")
	insertRaw("bad-2", `{"role":"system","content":"x"}`)
	insertRaw("bad-3", `{"role":"assistant","content":""}`)
	if err := store.Append(ctx, "t1", AssistantMessage("second")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	msgs, err := store.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 valid messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0] != UserMessage("first") || msgs[1] != AssistantMessage("second") {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}
