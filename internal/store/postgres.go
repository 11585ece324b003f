// Package store provides storage backends for wabot.
//
// This file implements the PostgreSQL-backed store for conversations,
// messages, and webhook bookkeeping.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/fluxkit/wabot/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying handle for components that need their own
// query layer on the same pool (the knowledge store).
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const conversationColumns = `id, phone, contact_id, mode, bot_enabled, handover_requested_at, handover_reason, handover_updates_sent, handover_resolved_at, handover_resolution_reason, last_message_at, created_at, updated_at`

func (s *PostgresStore) SaveConversation(c *models.Conversation) error {
	now := time.Now()
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = now
	}
	if c.Mode == "" {
		c.Mode = models.ModeBot
	}
	c.UpdatedAt = now

	updatesSent, err := encodeJSON(c.HandoverUpdatesSent)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (phone) DO UPDATE SET
		   contact_id = EXCLUDED.contact_id,
		   mode = EXCLUDED.mode,
		   bot_enabled = EXCLUDED.bot_enabled,
		   handover_requested_at = EXCLUDED.handover_requested_at,
		   handover_reason = EXCLUDED.handover_reason,
		   handover_updates_sent = EXCLUDED.handover_updates_sent,
		   handover_resolved_at = EXCLUDED.handover_resolved_at,
		   handover_resolution_reason = EXCLUDED.handover_resolution_reason,
		   last_message_at = EXCLUDED.last_message_at,
		   updated_at = EXCLUDED.updated_at`,
		c.ID, c.Phone, nilIfEmpty(c.ContactID), c.Mode, c.BotEnabled,
		c.HandoverRequestedAt, nilIfEmpty(c.HandoverReason), updatesSent,
		c.HandoverResolvedAt, nilIfEmpty(c.HandoverResolutionReason),
		c.LastMessageAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveConversation failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("save conversation failed: %w", err)
	}
	slog.Debug("PostgresStore.SaveConversation", "id", c.ID, "phone", c.Phone, "mode", c.Mode)
	return nil
}

func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetConversationByPhone(phone string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE phone = $1`, phone)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by phone failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListConversations(limit, offset int) ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT `+conversationColumns+` FROM conversations
		 ORDER BY last_message_at DESC NULLS LAST, updated_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *PostgresStore) SearchConversations(query string, limit int) ([]models.Conversation, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT DISTINCT c.id, c.phone, c.contact_id, c.mode, c.bot_enabled, c.handover_requested_at, c.handover_reason, c.handover_updates_sent, c.handover_resolved_at, c.handover_resolution_reason, c.last_message_at, c.created_at, c.updated_at
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE c.phone LIKE $1 OR m.body ILIKE $1
		 ORDER BY c.last_message_at DESC NULLS LAST LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search conversations failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *PostgresStore) ListPendingHandovers() ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT ` + conversationColumns + ` FROM conversations
		 WHERE mode = 'pending_human' AND handover_requested_at IS NOT NULL
		 ORDER BY handover_requested_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending handovers failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *PostgresStore) SetBotEnabledAll(enabled bool) (int, error) {
	// Same mode transition as the single-conversation toggle.
	mode := models.ModeBot
	if !enabled {
		mode = models.ModeHuman
	}
	result, err := s.db.Exec(
		`UPDATE conversations SET bot_enabled = $1, mode = $2, updated_at = $3 WHERE bot_enabled <> $1`,
		enabled, mode, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk toggle failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Info("PostgresStore.SetBotEnabledAll", "enabled", enabled, "updated", n)
	return int(n), nil
}

func (s *PostgresStore) CountConversations() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountConversationsByMode() (map[models.ConversationMode]int, error) {
	rows, err := s.db.Query(`SELECT mode, COUNT(*) FROM conversations GROUP BY mode`)
	if err != nil {
		return nil, fmt.Errorf("count conversations by mode failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ConversationMode]int)
	for rows.Next() {
		var mode models.ConversationMode
		var n int
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, fmt.Errorf("scan mode count failed: %w", err)
		}
		counts[mode] = n
	}
	return counts, rows.Err()
}

func collectConversations(rows *sql.Rows) ([]models.Conversation, error) {
	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation failed: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation rows iteration failed: %w", err)
	}
	return out, nil
}

const messageColumns = `id, conversation_id, gateway_message_id, direction, role, body, status, created_at`

func (s *PostgresStore) SaveMessage(m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, nilIfEmpty(m.GatewayMessageID), m.Direction, m.Role, m.Body, m.Status, m.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("save message failed: %w", err)
	}
	slog.Debug("PostgresStore.SaveMessage", "id", m.ID, "direction", m.Direction, "status", m.Status)
	return nil
}

func (s *PostgresStore) ListMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM (
		   SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1
		   ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountMessages(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateMessageStatusByGatewayID(gatewayMessageID string, status models.MessageStatus) error {
	result, err := s.db.Exec(
		`UPDATE messages SET status = $1 WHERE gateway_message_id = $2 AND direction = 'out'`,
		status, gatewayMessageID,
	)
	if err != nil {
		return fmt.Errorf("update message status failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("PostgresStore.UpdateMessageStatusByGatewayID", "gatewayMessageID", gatewayMessageID, "status", status, "updated", n)
	return nil
}

func (s *PostgresStore) CountMessagesSince(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages since failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) LogWebhookEvent(eventType, payload string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO webhook_events (event_type, payload, status, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		eventType, payload, models.WebhookStatusProcessing, time.Now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("log webhook event failed: %w", err)
	}
	slog.Debug("PostgresStore.LogWebhookEvent", "id", id, "eventType", eventType)
	return id, nil
}

func (s *PostgresStore) UpdateWebhookEventStatus(id int64, status models.WebhookEventStatus, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE webhook_events SET status = $1, error = $2 WHERE id = $3`,
		status, nilIfEmpty(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("update webhook event failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) TrackBotMessage(gatewayMessageID, phone string) error {
	_, err := s.db.Exec(
		`INSERT INTO bot_sent_messages (gateway_message_id, phone, sent_at) VALUES ($1, $2, $3)
		 ON CONFLICT (gateway_message_id) DO NOTHING`,
		gatewayMessageID, nilIfEmpty(phone), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("track bot message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) WasSentByBot(gatewayMessageID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT gateway_message_id FROM bot_sent_messages WHERE gateway_message_id = $1`, gatewayMessageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bot message check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) PruneBotMessages(before time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM bot_sent_messages WHERE sent_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune bot messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
