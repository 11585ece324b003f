// Package store provides storage backends for wabot.
//
// This file implements the SQLite-backed store used for development and tests.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fluxkit/wabot/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveConversation(c *models.Conversation) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (phone) DO UPDATE SET
		   contact_id = excluded.contact_id,
		   mode = excluded.mode,
		   bot_enabled = excluded.bot_enabled,
		   handover_requested_at = excluded.handover_requested_at,
		   handover_reason = excluded.handover_reason,
		   handover_updates_sent = excluded.handover_updates_sent,
		   handover_resolved_at = excluded.handover_resolved_at,
		   handover_resolution_reason = excluded.handover_resolution_reason,
		   last_message_at = excluded.last_message_at,
		   updated_at = excluded.updated_at`,
		c.ID, c.Phone, nilIfEmpty(c.ContactID), c.Mode, c.BotEnabled,
		c.HandoverRequestedAt, nilIfEmpty(c.HandoverReason), updatesSent,
		c.HandoverResolvedAt, nilIfEmpty(c.HandoverResolutionReason),
		c.LastMessageAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveConversation failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("save conversation failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveConversation", "id", c.ID, "phone", c.Phone, "mode", c.Mode)
	return nil
}

func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetConversationByPhone(phone string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE phone = ?`, phone)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by phone failed: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversations(limit, offset int) ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT `+conversationColumns+` FROM conversations
		 ORDER BY last_message_at DESC, updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *SQLiteStore) SearchConversations(query string, limit int) ([]models.Conversation, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT DISTINCT c.id, c.phone, c.contact_id, c.mode, c.bot_enabled, c.handover_requested_at, c.handover_reason, c.handover_updates_sent, c.handover_resolved_at, c.handover_resolution_reason, c.last_message_at, c.created_at, c.updated_at
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE c.phone LIKE ? OR m.body LIKE ?
		 ORDER BY c.last_message_at DESC LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search conversations failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *SQLiteStore) ListPendingHandovers() ([]models.Conversation, error) {
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

func (s *SQLiteStore) SetBotEnabledAll(enabled bool) (int, error) {
	// Same mode transition as the single-conversation toggle.
	mode := models.ModeBot
	if !enabled {
		mode = models.ModeHuman
	}
	result, err := s.db.Exec(
		`UPDATE conversations SET bot_enabled = ?, mode = ?, updated_at = ? WHERE bot_enabled <> ?`,
		enabled, mode, time.Now(), enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk toggle failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Info("SQLiteStore.SetBotEnabledAll", "enabled", enabled, "updated", n)
	return int(n), nil
}

func (s *SQLiteStore) CountConversations() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountConversationsByMode() (map[models.ConversationMode]int, error) {
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

func (s *SQLiteStore) SaveMessage(m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, nilIfEmpty(m.GatewayMessageID), m.Direction, m.Role, m.Body, m.Status, m.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("save message failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveMessage", "id", m.ID, "direction", m.Direction, "status", m.Status)
	return nil
}

func (s *SQLiteStore) ListMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM (
		   SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		   ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
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

func (s *SQLiteStore) CountMessages(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateMessageStatusByGatewayID(gatewayMessageID string, status models.MessageStatus) error {
	result, err := s.db.Exec(
		`UPDATE messages SET status = ? WHERE gateway_message_id = ? AND direction = 'out'`,
		status, gatewayMessageID,
	)
	if err != nil {
		return fmt.Errorf("update message status failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("SQLiteStore.UpdateMessageStatusByGatewayID", "gatewayMessageID", gatewayMessageID, "status", status, "updated", n)
	return nil
}

func (s *SQLiteStore) CountMessagesSince(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE created_at >= ?`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages since failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) LogWebhookEvent(eventType, payload string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO webhook_events (event_type, payload, status, created_at) VALUES (?, ?, ?, ?)`,
		eventType, payload, models.WebhookStatusProcessing, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("log webhook event failed: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("webhook event id lookup failed: %w", err)
	}
	slog.Debug("SQLiteStore.LogWebhookEvent", "id", id, "eventType", eventType)
	return id, nil
}

func (s *SQLiteStore) UpdateWebhookEventStatus(id int64, status models.WebhookEventStatus, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE webhook_events SET status = ?, error = ? WHERE id = ?`,
		status, nilIfEmpty(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("update webhook event failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TrackBotMessage(gatewayMessageID, phone string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO bot_sent_messages (gateway_message_id, phone, sent_at) VALUES (?, ?, ?)`,
		gatewayMessageID, nilIfEmpty(phone), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("track bot message failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WasSentByBot(gatewayMessageID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT gateway_message_id FROM bot_sent_messages WHERE gateway_message_id = ?`, gatewayMessageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bot message check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) PruneBotMessages(before time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM bot_sent_messages WHERE sent_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune bot messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
