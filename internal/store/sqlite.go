// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Uses modernc.org/sqlite by default, or mattn/go-sqlite3 when the sqlite3 driver is selected

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure Go driver. The schema is created if it doesn't exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLite("sqlite", path)
}

// OpenSQLite opens a store with the named database/sql driver ("sqlite" for
// modernc.org/sqlite, "sqlite3" for mattn/go-sqlite3).
// Parent directories are created if needed.
func OpenSQLite(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection keeps PRAGMAs in effect and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS businesses (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			status TEXT NOT NULL,
			target_messages INTEGER NOT NULL DEFAULT 0,
			rounds INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			completed_at TEXT,

			CHECK (status IN ('active', 'completed'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
		CREATE INDEX IF NOT EXISTS idx_conversations_business ON conversations(business_id, created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			agent_provider TEXT NOT NULL,
			content TEXT NOT NULL,
			order_index INTEGER NOT NULL CHECK (order_index > 0),
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			UNIQUE (conversation_id, order_index)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'fallback'`,
			apply:  `ALTER TABLE messages ADD COLUMN fallback INTEGER NOT NULL DEFAULT 0`,
			column: "fallback",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertBusiness inserts or replaces a business profile
func (s *SQLiteStore) UpsertBusiness(ctx context.Context, b *Business) error {
	query := `
		INSERT INTO businesses (id, name, location, industry, website, description)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			industry = excluded.industry,
			website = excluded.website,
			description = excluded.description
	`
	if _, err := s.db.ExecContext(ctx, query, b.ID, b.Name, b.Location, b.Industry, b.Website, b.Description); err != nil {
		return fmt.Errorf("upserting business: %w", err)
	}
	return nil
}

// GetBusiness retrieves a business by ID
func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*Business, error) {
	query := `SELECT id, name, location, industry, website, description FROM businesses WHERE id = ?`

	var b Business
	err := s.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Name, &b.Location, &b.Industry, &b.Website, &b.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying business: %w", err)
	}
	return &b, nil
}

// ListBusinesses returns all business profiles ordered by name
func (s *SQLiteStore) ListBusinesses(ctx context.Context) ([]*Business, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, location, industry, website, description FROM businesses ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying businesses: %w", err)
	}
	defer rows.Close()

	var out []*Business
	for rows.Next() {
		var b Business
		if err := rows.Scan(&b.ID, &b.Name, &b.Location, &b.Industry, &b.Website, &b.Description); err != nil {
			return nil, fmt.Errorf("scanning business: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// CreateConversation inserts conv as active unless another conversation is active.
// The check and the insert are a single statement, so concurrent callers cannot
// both succeed.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, business_id, topic, status, target_messages, rounds, created_at)
		SELECT ?, ?, ?, 'active', ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM conversations WHERE status = 'active')
	`

	res, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.BusinessID,
		conv.Topic,
		conv.TargetMessages,
		conv.Rounds,
		formatTime(conv.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("conversation %s: %w", conv.ID, ErrActiveConversationExists)
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking insert: %w", err)
	}
	if n == 0 {
		return ErrActiveConversationExists
	}

	conv.Status = StatusActive
	s.logger.Debug("created conversation", "id", conv.ID, "business_id", conv.BusinessID)
	return nil
}

// AppendMessage inserts msg after checking the conversation is active and the
// order index is dense.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}
	if Status(status) != StatusActive {
		return ErrConversationClosed
	}

	var highest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(order_index), 0) FROM messages WHERE conversation_id = ?`,
		msg.ConversationID,
	).Scan(&highest)
	if err != nil {
		return fmt.Errorf("querying highest order index: %w", err)
	}
	if err := checkOrder(highest, msg.OrderIndex); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, agent_name, agent_provider, content, order_index, created_at, fallback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.AgentName,
		msg.AgentProvider,
		msg.Content,
		msg.OrderIndex,
		formatTime(msg.CreatedAt),
		boolToInt(msg.Fallback),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// MarkCompleted transitions an active conversation to completed
func (s *SQLiteStore) MarkCompleted(ctx context.Context, conversationID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = 'completed', completed_at = ? WHERE id = ? AND status = 'active'`,
		formatTime(at), conversationID,
	)
	if err != nil {
		return fmt.Errorf("completing conversation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM conversations WHERE id = ?`, conversationID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}
	return ErrAlreadyCompleted
}

// CountMessages returns the number of persisted messages for a conversation
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

const conversationColumns = `
	c.id, c.business_id, c.topic, c.status, c.target_messages, c.rounds, c.created_at, c.completed_at,
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
`

// ListNonTerminal returns active conversations, newest first
func (s *SQLiteStore) ListNonTerminal(ctx context.Context) ([]*Conversation, error) {
	return s.queryConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.status = 'active' ORDER BY c.created_at DESC, c.id DESC`,
	)
}

// ListConversations returns conversations matching filter, newest first
func (s *SQLiteStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	var (
		where []string
		args  []any
	)
	if filter.BusinessID != "" {
		where = append(where, "c.business_id = ?")
		args = append(args, filter.BusinessID)
	}
	if filter.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations c`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.created_at DESC, c.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryConversations(ctx, query, args...)
}

// GetConversation retrieves a conversation by ID
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	convs, err := s.queryConversations(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, ErrNotFound
	}
	return convs[0], nil
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var (
			c           Conversation
			status      string
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.Topic, &status, &c.TargetMessages, &c.Rounds,
			&createdAt, &completedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.Status = Status(status)

		c.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if completedAt.Valid {
			t, err := parseTime(completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing completed_at: %w", err)
			}
			c.CompletedAt = &t
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// ListMessages returns the transcript of a conversation in order_index order
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, order Order) ([]*Message, error) {
	direction := "ASC"
	if order == Descending {
		direction = "DESC"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, agent_name, agent_provider, content, order_index, created_at, fallback
		FROM messages
		WHERE conversation_id = ?
		ORDER BY order_index `+direction,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m         Message
			createdAt string
			fallback  int
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.AgentName, &m.AgentProvider, &m.Content,
			&m.OrderIndex, &createdAt, &fallback); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		m.Fallback = fallback != 0
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

// Stats returns system-wide totals. MessagesSince counts messages whose
// logical timestamp is at or after since.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM conversations WHERE status = 'completed'),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE created_at >= ?)
	`, formatTime(since)).Scan(&st.TotalConversations, &st.CompletedConversations, &st.TotalMessages, &st.MessagesSince)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	return &st, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
