// Package campaign creates and dispatches bulk message campaigns.
//
// A campaign is created synchronously and dispatched by a durable job, so
// an in-flight campaign survives process restarts.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
	"github.com/fluxkit/wabot/internal/util"
)

// Constants for campaign dispatch
const (
	// JobKindDispatch is the durable job kind for campaign dispatch
	JobKindDispatch = "campaign_dispatch"
	// pacing bounds between consecutive recipient sends
	PacingMin = 2 * time.Second
	PacingMax = 4 * time.Second
)

// dispatchPayload is the durable job payload.
type dispatchPayload struct {
	CampaignID string `json:"campaign_id"`
}

// RecipientError reports one rejected phone number from campaign creation.
type RecipientError struct {
	Phone string `json:"phone"`
	Error string `json:"error"`
}

// Service creates campaigns and schedules their dispatch.
type Service struct {
	store     store.Store
	sender    gateway.Sender
	pacingMin time.Duration
	pacingMax time.Duration
}

// NewService creates a campaign Service.
func NewService(st store.Store, sender gateway.Sender) *Service {
	return &Service{store: st, sender: sender, pacingMin: PacingMin, pacingMax: PacingMax}
}

// Create validates the request, canonicalizes every recipient, persists the
// campaign, and enqueues its dispatch job. Invalid phone numbers are
// reported back without failing the whole campaign, but a campaign with no
// valid recipients is rejected.
func (s *Service) Create(req *models.CampaignRequest) (*models.Campaign, []RecipientError, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	var recipients []string
	var rejected []RecipientError
	seen := make(map[string]bool)
	for _, raw := range req.Contacts {
		phone, err := gateway.CanonicalizePhone(raw)
		if err != nil {
			rejected = append(rejected, RecipientError{Phone: raw, Error: err.Error()})
			continue
		}
		if seen[phone] {
			continue
		}
		seen[phone] = true
		recipients = append(recipients, phone)
	}
	if len(recipients) == 0 {
		return nil, rejected, models.ErrNoRecipients
	}

	c := &models.Campaign{
		ID:   util.GenerateCampaignID(time.Now()),
		Body: req.Message,
	}
	if err := s.store.CreateCampaign(c, recipients); err != nil {
		return nil, rejected, fmt.Errorf("campaign create failed: %w", err)
	}

	payload, err := json.Marshal(dispatchPayload{CampaignID: c.ID})
	if err != nil {
		return nil, rejected, fmt.Errorf("campaign payload marshal failed: %w", err)
	}
	if _, err := s.store.EnqueueJob(JobKindDispatch, time.Now(), string(payload), c.ID); err != nil {
		return nil, rejected, fmt.Errorf("campaign dispatch enqueue failed: %w", err)
	}

	slog.Info("Service.Create campaign queued", "id", c.ID, "recipients", c.Total, "rejected", len(rejected))
	return c, rejected, nil
}

// Cancel marks a pending or in-progress campaign as cancelled. The
// dispatcher observes the status between sends and stops.
func (s *Service) Cancel(id string) error {
	c, err := s.store.GetCampaign(id)
	if err != nil {
		return fmt.Errorf("campaign lookup failed: %w", err)
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", id)
	}
	if c.Status != models.CampaignStatusPending && c.Status != models.CampaignStatusInProgress {
		return fmt.Errorf("campaign %s is %s and cannot be cancelled", id, c.Status)
	}
	c.Status = models.CampaignStatusCancelled
	now := time.Now()
	c.FinishedAt = &now
	if err := s.store.UpdateCampaign(c); err != nil {
		return fmt.Errorf("campaign cancel failed: %w", err)
	}
	slog.Info("Service.Cancel", "id", id)
	return nil
}

// DispatchHandler returns the durable job handler that sends a campaign.
// Register it on the job runner under JobKindDispatch.
func (s *Service) DispatchHandler() store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p dispatchPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid dispatch payload: %w", err)
		}
		return s.dispatch(ctx, p.CampaignID)
	}
}

// dispatch sends the campaign to every recipient, pacing sends and making
// up to MaxCampaignSendPasses passes over failures.
func (s *Service) dispatch(ctx context.Context, campaignID string) error {
	c, err := s.store.GetCampaign(campaignID)
	if err != nil {
		return fmt.Errorf("campaign lookup failed: %w", err)
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", campaignID)
	}
	if c.Status == models.CampaignStatusCancelled || c.Status == models.CampaignStatusCompleted {
		slog.Info("Service.dispatch skipping finished campaign", "id", campaignID, "status", c.Status)
		return nil
	}

	now := time.Now()
	c.Status = models.CampaignStatusInProgress
	c.StartedAt = &now
	if err := s.store.UpdateCampaign(c); err != nil {
		return fmt.Errorf("campaign start update failed: %w", err)
	}

	for pass := 1; pass <= models.MaxCampaignSendPasses; pass++ {
		pending, err := s.pendingRecipients(campaignID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			break
		}
		slog.Info("Service.dispatch pass", "id", campaignID, "pass", pass, "pending", len(pending))

		for i := range pending {
			// The operator can cancel between sends.
			if cancelled, err := s.isCancelled(campaignID); err != nil {
				return err
			} else if cancelled {
				slog.Info("Service.dispatch cancelled mid-run", "id", campaignID)
				return nil
			}

			s.sendToRecipient(ctx, c.Body, &pending[i])

			// Pace between sends only, not after the last one.
			if i == len(pending)-1 {
				continue
			}
			select {
			case <-time.After(util.Jitter(s.pacingMin, s.pacingMax)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return s.finalize(campaignID)
}

func (s *Service) pendingRecipients(campaignID string) ([]models.CampaignRecipient, error) {
	all, err := s.store.ListCampaignRecipients(campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign recipients lookup failed: %w", err)
	}
	var pending []models.CampaignRecipient
	for _, r := range all {
		if !r.Success {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (s *Service) isCancelled(campaignID string) (bool, error) {
	c, err := s.store.GetCampaign(campaignID)
	if err != nil {
		return false, fmt.Errorf("campaign status check failed: %w", err)
	}
	return c == nil || c.Status == models.CampaignStatusCancelled, nil
}

func (s *Service) sendToRecipient(ctx context.Context, body string, r *models.CampaignRecipient) {
	r.Attempts++
	id, err := s.sender.SendText(ctx, r.Phone, body)
	if err != nil {
		r.Error = err.Error()
		slog.Warn("Service.sendToRecipient failed", "campaign", r.CampaignID, "phone", r.Phone, "attempt", r.Attempts, "error", err)
	} else {
		now := time.Now()
		r.Success = true
		r.Error = ""
		r.SentAt = &now
		if id != "" {
			if err := s.store.TrackBotMessage(id, r.Phone); err != nil {
				slog.Warn("Service.sendToRecipient tracking failed", "phone", r.Phone, "error", err)
			}
		}
	}
	if err := s.store.UpdateCampaignRecipient(r); err != nil {
		slog.Error("Service.sendToRecipient recipient update failed", "campaign", r.CampaignID, "phone", r.Phone, "error", err)
	}
}

// finalize tallies the recipient outcomes and closes the campaign.
func (s *Service) finalize(campaignID string) error {
	c, err := s.store.GetCampaign(campaignID)
	if err != nil || c == nil {
		return fmt.Errorf("campaign finalize lookup failed: %w", err)
	}
	if c.Status == models.CampaignStatusCancelled {
		return nil
	}

	recipients, err := s.store.ListCampaignRecipients(campaignID)
	if err != nil {
		return fmt.Errorf("campaign finalize recipients failed: %w", err)
	}
	c.Successful = 0
	c.Failed = 0
	for _, r := range recipients {
		if r.Success {
			c.Successful++
		} else {
			c.Failed++
		}
	}

	if c.Successful == 0 && c.Failed > 0 {
		c.Status = models.CampaignStatusFailed
	} else {
		c.Status = models.CampaignStatusCompleted
	}
	now := time.Now()
	c.FinishedAt = &now
	if err := s.store.UpdateCampaign(c); err != nil {
		return fmt.Errorf("campaign finalize update failed: %w", err)
	}
	slog.Info("Service.finalize", "id", campaignID, "status", c.Status, "successful", c.Successful, "failed", c.Failed)
	return nil
}
