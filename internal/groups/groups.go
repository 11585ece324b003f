// Package groups sends messages to WhatsApp group chats, immediately or on
// a schedule.
package groups

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// OutboxKindGroupMessage is the outbox kind for scheduled group sends.
const OutboxKindGroupMessage = "group_message"

// groupPayload is the outbox payload for a scheduled group send.
type groupPayload struct {
	ScheduledID string `json:"scheduled_id"`
	GroupJID    string `json:"group_jid"`
	Body        string `json:"body"`
}

// GroupLister enumerates groups from a live device session. Only the
// device driver implements it; other drivers fall back to stored groups.
type GroupLister interface {
	ListGroups(ctx context.Context) ([]gateway.GroupListing, error)
}

// Service handles immediate and scheduled group messaging.
type Service struct {
	store  store.Store
	sender gateway.Sender
	lister GroupLister
}

// NewService creates a group messaging Service. The lister may be nil when
// the configured driver has no live group enumeration.
func NewService(st store.Store, sender gateway.Sender, lister GroupLister) *Service {
	return &Service{store: st, sender: sender, lister: lister}
}

// ListGroups returns live groups from the device session when available,
// refreshing the stored copies, and stored groups otherwise.
func (s *Service) ListGroups(ctx context.Context) ([]models.GroupInfo, error) {
	if s.lister != nil {
		live, err := s.lister.ListGroups(ctx)
		if err == nil {
			out := make([]models.GroupInfo, 0, len(live))
			for _, g := range live {
				info := models.GroupInfo{JID: g.JID, Name: g.Name, Participants: g.Participants}
				if err := s.store.SaveGroup(&info); err != nil {
					slog.Warn("Service.ListGroups cache update failed", "jid", g.JID, "error", err)
				}
				out = append(out, info)
			}
			return out, nil
		}
		slog.Warn("Service.ListGroups live enumeration failed, using stored groups", "error", err)
	}
	return s.store.ListGroups()
}

// Send delivers a message to a group immediately and logs the outcome.
func (s *Service) Send(ctx context.Context, groupJID string, req *models.GroupSendRequest) (*models.GroupMessage, error) {
	if groupJID == "" {
		return nil, models.ErrEmptyGroupJID
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	record := &models.GroupMessage{GroupJID: groupJID, Body: req.Message}
	id, err := s.sender.SendGroupText(ctx, groupJID, req.Message)
	if err != nil {
		record.Status = models.MessageStatusFailed
		if saveErr := s.store.SaveGroupMessage(record); saveErr != nil {
			slog.Error("Service.Send failure log failed", "jid", groupJID, "error", saveErr)
		}
		return nil, fmt.Errorf("group send failed: %w", err)
	}

	record.GatewayMessageID = id
	record.Status = models.MessageStatusSent
	if err := s.store.SaveGroupMessage(record); err != nil {
		slog.Error("Service.Send log failed", "jid", groupJID, "error", err)
	}
	slog.Info("Service.Send", "jid", groupJID, "messageID", id)
	return record, nil
}

// History lists recent messages sent to a group.
func (s *Service) History(groupJID string, limit int) ([]models.GroupMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListGroupMessages(groupJID, limit)
}

// Schedule stores a future group send.
func (s *Service) Schedule(req *models.ScheduleGroupMessageRequest) (*models.ScheduledGroupMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m := &models.ScheduledGroupMessage{
		GroupJID: req.GroupJID,
		Body:     req.Message,
		SendAt:   req.SendAt,
	}
	if err := s.store.SaveScheduledGroupMessage(m); err != nil {
		return nil, fmt.Errorf("schedule group message failed: %w", err)
	}
	slog.Info("Service.Schedule", "id", m.ID, "jid", m.GroupJID, "sendAt", m.SendAt)
	return m, nil
}

// ListScheduled returns scheduled group messages, soonest first.
func (s *Service) ListScheduled(limit int) ([]models.ScheduledGroupMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListScheduledGroupMessages(limit)
}

// CancelScheduled cancels a message that has not been sent yet.
func (s *Service) CancelScheduled(id string) error {
	m, err := s.store.GetScheduledGroupMessage(id)
	if err != nil {
		return fmt.Errorf("scheduled message lookup failed: %w", err)
	}
	if m == nil {
		return fmt.Errorf("scheduled message not found: %s", id)
	}
	if m.Status != models.ScheduledStatusScheduled {
		return fmt.Errorf("scheduled message %s is %s and cannot be cancelled", id, m.Status)
	}
	m.Status = models.ScheduledStatusCancelled
	if err := s.store.SaveScheduledGroupMessage(m); err != nil {
		return fmt.Errorf("scheduled message cancel failed: %w", err)
	}
	slog.Info("Service.CancelScheduled", "id", id)
	return nil
}

// SweepDue moves due scheduled messages into the outbox. It runs every
// minute from the cron scheduler; the outbox sender performs the actual
// delivery with retry.
func (s *Service) SweepDue(ctx context.Context) {
	due, err := s.store.DueScheduledGroupMessages(time.Now())
	if err != nil {
		slog.Error("Service.SweepDue query failed", "error", err)
		return
	}
	for i := range due {
		m := &due[i]
		payload, err := json.Marshal(groupPayload{ScheduledID: m.ID, GroupJID: m.GroupJID, Body: m.Body})
		if err != nil {
			slog.Error("Service.SweepDue payload marshal failed", "id", m.ID, "error", err)
			continue
		}
		// The scheduled ID doubles as the dedupe key, so a sweep that
		// races a slow previous sweep cannot double-send.
		if _, err := s.store.EnqueueOutboxMessage(m.GroupJID, OutboxKindGroupMessage, string(payload), m.ID); err != nil {
			slog.Error("Service.SweepDue enqueue failed", "id", m.ID, "error", err)
			continue
		}
		m.Status = models.ScheduledStatusSent
		if err := s.store.SaveScheduledGroupMessage(m); err != nil {
			slog.Error("Service.SweepDue status update failed", "id", m.ID, "error", err)
		}
		slog.Info("Service.SweepDue queued", "id", m.ID, "jid", m.GroupJID)
	}
}

// OutboxHandler returns the outbox send callback for scheduled group
// messages. Register it as the sender for OutboxKindGroupMessage.
func (s *Service) OutboxHandler() store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKindGroupMessage {
			return fmt.Errorf("unexpected outbox kind %q", msg.Kind)
		}
		var p groupPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("invalid group outbox payload: %w", err)
		}

		id, err := s.sender.SendGroupText(ctx, p.GroupJID, p.Body)
		if err != nil {
			s.recordScheduledError(p.ScheduledID, err)
			return err
		}
		record := &models.GroupMessage{GroupJID: p.GroupJID, Body: p.Body, GatewayMessageID: id, Status: models.MessageStatusSent}
		if err := s.store.SaveGroupMessage(record); err != nil {
			slog.Error("Service.OutboxHandler log failed", "jid", p.GroupJID, "error", err)
		}
		return nil
	}
}

func (s *Service) recordScheduledError(scheduledID string, sendErr error) {
	m, err := s.store.GetScheduledGroupMessage(scheduledID)
	if err != nil || m == nil {
		return
	}
	m.Status = models.ScheduledStatusFailed
	m.Error = sendErr.Error()
	if err := s.store.SaveScheduledGroupMessage(m); err != nil {
		slog.Error("Service.recordScheduledError update failed", "id", scheduledID, "error", err)
	}
}
