package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fluxkit/wabot/internal/models"
)

const campaignColumns = `id, body, status, total, successful, failed, created_at, started_at, finished_at`

func (s *PostgresStore) CreateCampaign(c *models.Campaign, recipients []string) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = models.CampaignStatusPending
	}
	c.Total = len(recipients)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("create campaign begin failed: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO campaigns (`+campaignColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Body, c.Status, c.Total, c.Successful, c.Failed, c.CreatedAt, c.StartedAt, c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert campaign failed: %w", err)
	}
	for _, phone := range recipients {
		_, err = tx.Exec(
			`INSERT INTO campaign_recipients (campaign_id, phone, success, attempts) VALUES ($1, $2, FALSE, 0)
			 ON CONFLICT (campaign_id, phone) DO NOTHING`,
			c.ID, phone,
		)
		if err != nil {
			return fmt.Errorf("insert campaign recipient failed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create campaign commit failed: %w", err)
	}
	slog.Info("PostgresStore.CreateCampaign", "id", c.ID, "recipients", c.Total)
	return nil
}

func (s *PostgresStore) GetCampaign(id string) (*models.Campaign, error) {
	row := s.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListCampaigns(limit, offset int) ([]models.Campaign, error) {
	rows, err := s.db.Query(
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list campaigns failed: %w", err)
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign failed: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCampaign(c *models.Campaign) error {
	_, err := s.db.Exec(
		`UPDATE campaigns SET status = $1, successful = $2, failed = $3, started_at = $4, finished_at = $5 WHERE id = $6`,
		c.Status, c.Successful, c.Failed, c.StartedAt, c.FinishedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update campaign failed: %w", err)
	}
	slog.Debug("PostgresStore.UpdateCampaign", "id", c.ID, "status", c.Status, "successful", c.Successful, "failed", c.Failed)
	return nil
}

func (s *PostgresStore) ListCampaignRecipients(campaignID string) ([]models.CampaignRecipient, error) {
	rows, err := s.db.Query(
		`SELECT campaign_id, phone, success, error, attempts, sent_at FROM campaign_recipients WHERE campaign_id = $1 ORDER BY phone`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("list campaign recipients failed: %w", err)
	}
	defer rows.Close()

	var out []models.CampaignRecipient
	for rows.Next() {
		r, err := scanCampaignRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign recipient failed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCampaignRecipient(r *models.CampaignRecipient) error {
	_, err := s.db.Exec(
		`UPDATE campaign_recipients SET success = $1, error = $2, attempts = $3, sent_at = $4 WHERE campaign_id = $5 AND phone = $6`,
		r.Success, nilIfEmpty(r.Error), r.Attempts, r.SentAt, r.CampaignID, r.Phone,
	)
	if err != nil {
		return fmt.Errorf("update campaign recipient failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountActiveCampaigns() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM campaigns WHERE status IN ('pending', 'in_progress')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active campaigns failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SaveGroup(g *models.GroupInfo) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO groups (jid, name, participants, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (jid) DO UPDATE SET name = EXCLUDED.name, participants = EXCLUDED.participants`,
		g.JID, nilIfEmpty(g.Name), g.Participants, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save group failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGroups() ([]models.GroupInfo, error) {
	rows, err := s.db.Query(`SELECT jid, name, participants, created_at FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups failed: %w", err)
	}
	defer rows.Close()

	var out []models.GroupInfo
	for rows.Next() {
		var g models.GroupInfo
		var name sql.NullString
		if err := rows.Scan(&g.JID, &name, &g.Participants, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group failed: %w", err)
		}
		g.Name = name.String
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveGroupMessage(m *models.GroupMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO group_messages (id, group_jid, body, gateway_message_id, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.GroupJID, m.Body, nilIfEmpty(m.GatewayMessageID), m.Status, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save group message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGroupMessages(groupJID string, limit int) ([]models.GroupMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, group_jid, body, gateway_message_id, status, created_at FROM group_messages
		 WHERE group_jid = $1 ORDER BY created_at DESC LIMIT $2`,
		groupJID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list group messages failed: %w", err)
	}
	defer rows.Close()

	var out []models.GroupMessage
	for rows.Next() {
		var m models.GroupMessage
		var gatewayID sql.NullString
		if err := rows.Scan(&m.ID, &m.GroupJID, &m.Body, &gatewayID, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group message failed: %w", err)
		}
		m.GatewayMessageID = gatewayID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

const scheduledColumns = `id, group_jid, body, send_at, status, error, created_at`

func (s *PostgresStore) SaveScheduledGroupMessage(m *models.ScheduledGroupMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
		m.CreatedAt = time.Now()
	}
	if m.Status == "" {
		m.Status = models.ScheduledStatusScheduled
	}
	_, err := s.db.Exec(
		`INSERT INTO scheduled_group_messages (`+scheduledColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, error = EXCLUDED.error`,
		m.ID, m.GroupJID, m.Body, m.SendAt, m.Status, nilIfEmpty(m.Error), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save scheduled group message failed: %w", err)
	}
	slog.Debug("PostgresStore.SaveScheduledGroupMessage", "id", m.ID, "status", m.Status, "sendAt", m.SendAt)
	return nil
}

func (s *PostgresStore) GetScheduledGroupMessage(id string) (*models.ScheduledGroupMessage, error) {
	row := s.db.QueryRow(`SELECT `+scheduledColumns+` FROM scheduled_group_messages WHERE id = $1`, id)
	m, err := scanScheduledGroupMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled group message failed: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListScheduledGroupMessages(limit int) ([]models.ScheduledGroupMessage, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduledColumns+` FROM scheduled_group_messages ORDER BY send_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list scheduled group messages failed: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func (s *PostgresStore) DueScheduledGroupMessages(now time.Time) ([]models.ScheduledGroupMessage, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduledColumns+` FROM scheduled_group_messages WHERE status = 'scheduled' AND send_at <= $1 ORDER BY send_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("due scheduled group messages failed: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func collectScheduled(rows *sql.Rows) ([]models.ScheduledGroupMessage, error) {
	var out []models.ScheduledGroupMessage
	for rows.Next() {
		m, err := scanScheduledGroupMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled group message failed: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
