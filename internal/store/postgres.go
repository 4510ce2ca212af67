// ABOUTME: PostgreSQL implementation of the Store interface using pgx/v5 connection pools
// ABOUTME: Serializes conversation creation with a transaction-scoped advisory lock

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// activeLockKey is the advisory lock guarding the single active conversation.
const activeLockKey = 0x7061726c6579 // "parley"

// PostgresStore implements the Store interface on PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn, verifies the connection and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if poolCfg.MaxConns == 0 || poolCfg.MaxConns > 10 {
		poolCfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS businesses (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('active', 'completed')),
			target_messages INTEGER NOT NULL DEFAULT 0,
			rounds INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_business ON conversations(business_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			agent_name TEXT NOT NULL,
			agent_provider TEXT NOT NULL,
			content TEXT NOT NULL,
			order_index INTEGER NOT NULL CHECK (order_index > 0),
			created_at TIMESTAMPTZ NOT NULL,
			fallback BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (conversation_id, order_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertBusiness inserts or replaces a business profile
func (s *PostgresStore) UpsertBusiness(ctx context.Context, b *Business) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO businesses (id, name, location, industry, website, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			industry = EXCLUDED.industry,
			website = EXCLUDED.website,
			description = EXCLUDED.description
	`, b.ID, b.Name, b.Location, b.Industry, b.Website, b.Description)
	if err != nil {
		return fmt.Errorf("upserting business: %w", err)
	}
	return nil
}

// GetBusiness retrieves a business by ID
func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*Business, error) {
	var b Business
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, location, industry, website, description FROM businesses WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Location, &b.Industry, &b.Website, &b.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying business: %w", err)
	}
	return &b, nil
}

// ListBusinesses returns all business profiles ordered by name
func (s *PostgresStore) ListBusinesses(ctx context.Context) ([]*Business, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, location, industry, website, description FROM businesses ORDER BY name`)
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

// CreateConversation inserts conv as active while holding the advisory lock,
// so two processes cannot both create an active conversation.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(activeLockKey)); err != nil {
		return fmt.Errorf("acquiring active lock: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO conversations (id, business_id, topic, status, target_messages, rounds, created_at)
		SELECT $1, $2, $3, 'active', $4, $5, $6
		WHERE NOT EXISTS (SELECT 1 FROM conversations WHERE status = 'active')
	`, conv.ID, conv.BusinessID, conv.Topic, conv.TargetMessages, conv.Rounds, conv.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("conversation %s: %w", conv.ID, ErrActiveConversationExists)
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrActiveConversationExists
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	conv.Status = StatusActive
	s.logger.Debug("created conversation", "id", conv.ID, "business_id", conv.BusinessID)
	return nil
}

// AppendMessage inserts msg after locking the conversation row and checking
// the order index is dense.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM conversations WHERE id = $1 FOR UPDATE`, msg.ConversationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}
	if Status(status) != StatusActive {
		return ErrConversationClosed
	}

	var highest int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(order_index), 0) FROM messages WHERE conversation_id = $1`, msg.ConversationID,
	).Scan(&highest)
	if err != nil {
		return fmt.Errorf("querying highest order index: %w", err)
	}
	if err := checkOrder(highest, msg.OrderIndex); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, agent_name, agent_provider, content, order_index, created_at, fallback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.ConversationID, msg.AgentName, msg.AgentProvider, msg.Content, msg.OrderIndex, msg.CreatedAt.UTC(), msg.Fallback)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

// MarkCompleted transitions an active conversation to completed
func (s *PostgresStore) MarkCompleted(ctx context.Context, conversationID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = 'completed', completed_at = $1 WHERE id = $2 AND status = 'active'`,
		at.UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("completing conversation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM conversations WHERE id = $1`, conversationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}
	return ErrAlreadyCompleted
}

// CountMessages returns the number of persisted messages for a conversation
func (s *PostgresStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// ListNonTerminal returns active conversations, newest first
func (s *PostgresStore) ListNonTerminal(ctx context.Context) ([]*Conversation, error) {
	return s.ListConversations(ctx, ConversationFilter{Status: StatusActive})
}

// ListConversations returns conversations matching filter, newest first
func (s *PostgresStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	var (
		where []string
		args  []any
	)
	if filter.BusinessID != "" {
		args = append(args, filter.BusinessID)
		where = append(where, fmt.Sprintf("c.business_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("c.status = $%d", len(args)))
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations c`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.created_at DESC, c.id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.queryConversations(ctx, query, args...)
}

// GetConversation retrieves a conversation by ID
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	convs, err := s.queryConversations(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, ErrNotFound
	}
	return convs[0], nil
}

func (s *PostgresStore) queryConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var (
			c      Conversation
			status string
		)
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.Topic, &status, &c.TargetMessages, &c.Rounds,
			&c.CreatedAt, &c.CompletedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.Status = Status(status)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// ListMessages returns the transcript of a conversation in order_index order
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, order Order) ([]*Message, error) {
	direction := "ASC"
	if order == Descending {
		direction = "DESC"
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, agent_name, agent_provider, content, order_index, created_at, fallback
		FROM messages
		WHERE conversation_id = $1
		ORDER BY order_index `+direction, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.AgentName, &m.AgentProvider, &m.Content,
			&m.OrderIndex, &m.CreatedAt, &m.Fallback); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

// Stats returns system-wide totals
func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM conversations WHERE status = 'completed'),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE created_at >= $1)
	`, since.UTC()).Scan(&st.TotalConversations, &st.CompletedConversations, &st.TotalMessages, &st.MessagesSince)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	return &st, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
