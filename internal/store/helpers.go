package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fluxkit/wabot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeJSON marshals v to a nullable column value. Empty maps and slices
// store as NULL.
func encodeJSON(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]bool:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column failed: %w", err)
	}
	return string(data), nil
}

// decodeJSON unmarshals a nullable column value into dst. NULL leaves dst untouched.
func decodeJSON(raw sql.NullString, dst interface{}) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("decode json column failed: %w", err)
	}
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanConversation scans a conversation row in SELECT column order.
func scanConversation(row rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var contactID, reason, updatesSent, resolutionReason sql.NullString
	var requestedAt, resolvedAt, lastMessageAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Phone, &contactID, &c.Mode, &c.BotEnabled,
		&requestedAt, &reason, &updatesSent, &resolvedAt, &resolutionReason,
		&lastMessageAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.ContactID = contactID.String
	c.HandoverReason = reason.String
	c.HandoverResolutionReason = resolutionReason.String
	if requestedAt.Valid {
		c.HandoverRequestedAt = &requestedAt.Time
	}
	if resolvedAt.Valid {
		c.HandoverResolvedAt = &resolvedAt.Time
	}
	if lastMessageAt.Valid {
		c.LastMessageAt = &lastMessageAt.Time
	}
	if err := decodeJSON(updatesSent, &c.HandoverUpdatesSent); err != nil {
		return c, err
	}
	return c, nil
}

// scanMessage scans a message row in SELECT column order.
func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var gatewayID sql.NullString
	err := row.Scan(
		&m.ID, &m.ConversationID, &gatewayID, &m.Direction, &m.Role,
		&m.Body, &m.Status, &m.CreatedAt,
	)
	if err != nil {
		return m, err
	}
	m.GatewayMessageID = gatewayID.String
	return m, nil
}

// scanContact scans a contact row in SELECT column order.
func scanContact(row rowScanner) (models.Contact, error) {
	var c models.Contact
	var name, email, company, tags, notes sql.NullString
	err := row.Scan(
		&c.ID, &c.Phone, &name, &email, &company, &tags,
		&c.LeadScore, &notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Name = name.String
	c.Email = email.String
	c.Company = company.String
	c.Notes = notes.String
	if err := decodeJSON(tags, &c.Tags); err != nil {
		return c, err
	}
	return c, nil
}

// scanLead scans a lead row in SELECT column order.
func scanLead(row rowScanner) (models.Lead, error) {
	var l models.Lead
	var contactID, quality, source, reason sql.NullString
	err := row.Scan(
		&l.ID, &contactID, &l.Phone, &l.Status, &quality, &l.Score,
		&source, &reason, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return l, err
	}
	l.ContactID = contactID.String
	l.Quality = models.LeadQuality(quality.String)
	l.Source = source.String
	l.Reason = reason.String
	return l, nil
}

// scanDeal scans a deal row in SELECT column order.
func scanDeal(row rowScanner) (models.Deal, error) {
	var d models.Deal
	err := row.Scan(&d.ID, &d.ContactID, &d.Title, &d.Value, &d.Stage, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// scanTask scans a task row in SELECT column order.
func scanTask(row rowScanner) (models.Task, error) {
	var t models.Task
	var contactID sql.NullString
	var dueAt, completedAt sql.NullTime
	err := row.Scan(&t.ID, &contactID, &t.Title, &dueAt, &t.Priority, &t.Done, &completedAt, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.ContactID = contactID.String
	if dueAt.Valid {
		t.DueAt = &dueAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

// scanCampaign scans a campaign row in SELECT column order.
func scanCampaign(row rowScanner) (models.Campaign, error) {
	var c models.Campaign
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&c.ID, &c.Body, &c.Status, &c.Total, &c.Successful, &c.Failed, &c.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return c, err
	}
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		c.FinishedAt = &finishedAt.Time
	}
	return c, nil
}

// scanCampaignRecipient scans a campaign recipient row in SELECT column order.
func scanCampaignRecipient(row rowScanner) (models.CampaignRecipient, error) {
	var r models.CampaignRecipient
	var errMsg sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(&r.CampaignID, &r.Phone, &r.Success, &errMsg, &r.Attempts, &sentAt)
	if err != nil {
		return r, err
	}
	r.Error = errMsg.String
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	return r, nil
}

// scanScheduledGroupMessage scans a scheduled group message row in SELECT column order.
func scanScheduledGroupMessage(row rowScanner) (models.ScheduledGroupMessage, error) {
	var m models.ScheduledGroupMessage
	var errMsg sql.NullString
	err := row.Scan(&m.ID, &m.GroupJID, &m.Body, &m.SendAt, &m.Status, &errMsg, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.Error = errMsg.String
	return m, nil
}

// scanJob scans a Job from sql.Rows.
func scanJob(rows *sql.Rows) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := rows.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanJobRow scans a Job from a single sql.Row.
func scanJobRow(row *sql.Row) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.Recipient, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
