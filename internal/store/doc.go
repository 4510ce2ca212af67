// Package store provides persistence for conversations, messages and business
// profiles.
//
// # Backends
//
//   - SQLiteStore: default, file backed. Works with modernc.org/sqlite
//     (driver "sqlite") or mattn/go-sqlite3 (driver "sqlite3").
//   - PostgresStore: pgx connection pool for shared deployments.
//   - MockStore: in-memory, for tests, with failure injection.
//
// All three enforce the same rules: CreateConversation refuses a second
// active conversation, AppendMessage only accepts the next dense order_index
// of an active conversation, and MarkCompleted succeeds once.
//
// # Retries
//
// RetryingRepository wraps any Repository and retries transient errors with
// exponential backoff. Sentinel errors (ErrNotFound, ErrDuplicateOrder,
// ErrOrderGap, ErrConversationClosed, ErrAlreadyCompleted,
// ErrActiveConversationExists) are returned on the first attempt.
//
// # Timestamps
//
// SQLite stores timestamps as fixed-width UTC text with nanosecond precision so
// that lexical order matches chronological order.
package store
