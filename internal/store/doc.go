// Package store provides durable conversation storage for coven-chat.
//
// # Architecture
//
// ConversationStore is the single interface every backend implements:
//
//   - Append: add a message to the end of a thread, creating it if needed
//   - Load: replay a thread's messages in append order
//   - ListThreads: every thread with at least one record, each exactly once
//
// Backends:
//
//   - MemoryStore: maps guarded by a RWMutex; lost on exit
//   - SQLiteStore: database/sql with modernc.org/sqlite or mattn/go-sqlite3
//   - BoltStore: a single bbolt file with one nested bucket per thread
//   - RedisStore: one list per thread plus a stream of append events
//
// Open picks a backend from config.DatabaseConfig.
//
// # Checkpoints
//
// Durable backends write a Checkpoint per append: a fresh ID, the thread,
// a per-thread step, the source (input for user turns, loop for assistant
// turns) and the message itself. A thread therefore owns many records, and
// ListThreads collapses them so each thread appears once, in the order the
// backend first saw it.
//
// # Malformed Records
//
// A record that is not valid JSON, names an unknown role, or has empty
// content is skipped by Load and logged at debug level. Load never fails
// because of one bad record.
//
// # SQLite Configuration
//
// The SQLite backend runs in WAL mode with synchronous=FULL so an Append
// that returned is durable:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA synchronous=FULL;
//	PRAGMA busy_timeout=5000;
//
// Schema:
//
//	checkpoints(seq, checkpoint_id, thread_id, step, source, payload, created_at)
//
// # Thread Safety
//
// All backends are safe for concurrent use. Ordering between concurrent
// appends to the same thread is decided by the caller (see the conversation
// package's per-thread lock).
package store
