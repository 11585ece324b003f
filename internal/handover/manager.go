package handover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// Constants for handover lifecycle timing
const (
	// SweepInterval is how often waiting conversations are checked
	SweepInterval = 5 * time.Minute
	// RescueAfter is the wait beyond which the bot takes the conversation back
	RescueAfter = 60 * time.Minute
	// AgentResponseWindow is the due time of the follow-up task created on handover
	AgentResponseWindow = time.Hour
	// handoverScoreBoost is added to the contact lead score on a handover request
	handoverScoreBoost = 25
)

// updateIntervals are the progressive wait-time notices, in minutes from
// the handover request. The map key in HandoverUpdatesSent is the decimal
// minute value.
var updateIntervals = []int{10, 20, 30, 45}

// Manager runs the handover lifecycle: triggering on detection, progressive
// wait updates, and the timeout rescue that hands back to the bot.
type Manager struct {
	store  store.Store
	sender gateway.Sender
}

// NewManager creates a handover Manager.
func NewManager(st store.Store, sender gateway.Sender) *Manager {
	return &Manager{store: st, sender: sender}
}

// Trigger switches the conversation to pending_human and records the
// request across the CRM: contact score boost, qualified lead, follow-up
// task, and activity entry. A confirmation message is sent to the customer.
func (m *Manager) Trigger(ctx context.Context, conv *models.Conversation, triggerMessage, reason string) error {
	now := time.Now()

	contact, err := m.store.GetContactByPhone(conv.Phone)
	if err != nil {
		return fmt.Errorf("handover contact lookup failed: %w", err)
	}
	if contact == nil {
		contact = &models.Contact{Phone: conv.Phone}
	}
	if err := m.store.SaveContact(contact); err != nil {
		return fmt.Errorf("handover contact save failed: %w", err)
	}
	if _, err := m.store.AdjustLeadScore(contact.ID, handoverScoreBoost); err != nil {
		slog.Warn("Manager.Trigger lead score boost failed", "phone", conv.Phone, "error", err)
	}

	// A customer asking for a human is a qualified lead.
	lead := &models.Lead{
		ContactID: contact.ID,
		Phone:     conv.Phone,
		Status:    models.LeadStatusQualified,
		Quality:   models.LeadQualityHigh,
		Score:     min(contact.LeadScore+handoverScoreBoost, 100),
		Source:    "whatsapp",
		Reason:    clip(triggerMessage, 200),
	}
	if err := m.store.SaveLead(lead); err != nil {
		slog.Warn("Manager.Trigger lead save failed", "phone", conv.Phone, "error", err)
	}

	due := now.Add(AgentResponseWindow)
	task := &models.Task{
		ContactID: contact.ID,
		Title:     "Respond to human support request",
		DueAt:     &due,
		Priority:  models.TaskPriorityHigh,
	}
	if err := m.store.SaveTask(task); err != nil {
		slog.Warn("Manager.Trigger task save failed", "phone", conv.Phone, "error", err)
	}

	activity := &models.Activity{
		ContactID: contact.ID,
		Kind:      "support_request",
		Detail:    fmt.Sprintf("Customer requested a human agent. Trigger: %q", clip(triggerMessage, 200)),
	}
	if err := m.store.AddActivity(activity); err != nil {
		slog.Warn("Manager.Trigger activity save failed", "phone", conv.Phone, "error", err)
	}

	conv.Mode = models.ModePendingHuman
	conv.BotEnabled = false
	conv.ContactID = contact.ID
	conv.HandoverRequestedAt = &now
	conv.HandoverReason = reason
	conv.HandoverUpdatesSent = map[string]bool{}
	conv.HandoverResolvedAt = nil
	conv.HandoverResolutionReason = ""
	if err := m.store.SaveConversation(conv); err != nil {
		return fmt.Errorf("handover conversation save failed: %w", err)
	}

	confirmation := "Got it! I'm connecting you with a member of our team. " +
		"Someone will be with you shortly. I'll keep you posted while you wait."
	m.sendTracked(ctx, conv.Phone, confirmation)

	slog.Info("Manager.Trigger handover started", "phone", conv.Phone, "reason", reason)
	return nil
}

// Sweep checks every waiting conversation, sends the progressive updates
// due, and rescues conversations that waited past the timeout. It is run
// on a fixed schedule.
func (m *Manager) Sweep(ctx context.Context) {
	waiting, err := m.store.ListPendingHandovers()
	if err != nil {
		slog.Error("Manager.Sweep list failed", "error", err)
		return
	}
	if len(waiting) == 0 {
		return
	}
	slog.Debug("Manager.Sweep", "waiting", len(waiting))

	now := time.Now()
	for i := range waiting {
		conv := &waiting[i]
		if conv.HandoverRequestedAt == nil {
			continue
		}
		waited := now.Sub(*conv.HandoverRequestedAt)

		if waited >= RescueAfter {
			if err := m.rescue(ctx, conv, waited, "timeout_rescue"); err != nil {
				slog.Error("Manager.Sweep rescue failed", "phone", conv.Phone, "error", err)
			}
			continue
		}

		m.sendDueUpdates(ctx, conv, waited)
	}
}

// sendDueUpdates sends at most one progressive update per interval that
// the wait has passed.
func (m *Manager) sendDueUpdates(ctx context.Context, conv *models.Conversation, waited time.Duration) {
	if conv.HandoverUpdatesSent == nil {
		conv.HandoverUpdatesSent = map[string]bool{}
	}
	changed := false
	for _, minutes := range updateIntervals {
		key := fmt.Sprintf("%d", minutes)
		if waited < time.Duration(minutes)*time.Minute || conv.HandoverUpdatesSent[key] {
			continue
		}
		m.sendTracked(ctx, conv.Phone, progressiveUpdateMessage(minutes, int(waited.Minutes())))
		conv.HandoverUpdatesSent[key] = true
		changed = true
	}
	if changed {
		if err := m.store.SaveConversation(conv); err != nil {
			slog.Error("Manager.sendDueUpdates save failed", "phone", conv.Phone, "error", err)
		}
	}
}

// Rescue manually resolves a waiting handover and re-enables the bot.
func (m *Manager) Rescue(ctx context.Context, phone, reason string) error {
	conv, err := m.store.GetConversationByPhone(phone)
	if err != nil {
		return fmt.Errorf("rescue lookup failed: %w", err)
	}
	if conv == nil || conv.Mode != models.ModePendingHuman {
		return fmt.Errorf("no waiting handover for %s", phone)
	}
	var waited time.Duration
	if conv.HandoverRequestedAt != nil {
		waited = time.Since(*conv.HandoverRequestedAt)
	}
	if reason == "" {
		reason = "manual_rescue"
	}
	return m.rescue(ctx, conv, waited, reason)
}

func (m *Manager) rescue(ctx context.Context, conv *models.Conversation, waited time.Duration, reason string) error {
	now := time.Now()
	conv.Mode = models.ModeBot
	conv.BotEnabled = true
	conv.HandoverResolvedAt = &now
	conv.HandoverResolutionReason = reason
	if err := m.store.SaveConversation(conv); err != nil {
		return fmt.Errorf("rescue save failed: %w", err)
	}

	msg := fmt.Sprintf("I'm so sorry about the wait - you've been waiting %d minutes for our team. "+
		"I'm back to help you right away. What can I do for you?", int(waited.Minutes()))
	m.sendTracked(ctx, conv.Phone, msg)

	slog.Info("Manager.rescue", "phone", conv.Phone, "waitedMinutes", int(waited.Minutes()), "reason", reason)
	return nil
}

// ReturnToBot resolves a handover because the agent finished, without an
// apology message.
func (m *Manager) ReturnToBot(ctx context.Context, phone string) error {
	conv, err := m.store.GetConversationByPhone(phone)
	if err != nil {
		return fmt.Errorf("return-to-bot lookup failed: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("no conversation for %s", phone)
	}
	now := time.Now()
	conv.Mode = models.ModeBot
	conv.BotEnabled = true
	conv.HandoverResolvedAt = &now
	conv.HandoverResolutionReason = "agent_returned"
	if err := m.store.SaveConversation(conv); err != nil {
		return fmt.Errorf("return-to-bot save failed: %w", err)
	}
	slog.Info("Manager.ReturnToBot", "phone", phone)
	return nil
}

// Stats summarizes waiting conversations for the dashboard.
func (m *Manager) Stats() (*models.HandoverStats, error) {
	waiting, err := m.store.ListPendingHandovers()
	if err != nil {
		return nil, fmt.Errorf("handover stats failed: %w", err)
	}
	stats := &models.HandoverStats{TotalWaiting: len(waiting)}
	now := time.Now()
	for _, conv := range waiting {
		if conv.HandoverRequestedAt == nil {
			continue
		}
		waited := now.Sub(*conv.HandoverRequestedAt)
		if waited > 60*time.Minute {
			stats.WaitingOver60Min++
		} else if waited > 30*time.Minute {
			stats.WaitingOver30Min++
		}
		if len(conv.HandoverUpdatesSent) > 0 {
			stats.NotifiedCustomers++
		}
	}
	return stats, nil
}

// sendTracked sends a message and records it as bot-sent so the webhook
// does not loop it back through the pipeline.
func (m *Manager) sendTracked(ctx context.Context, phone, body string) {
	id, err := gateway.SendWithRetry(ctx, m.sender, phone, body)
	if err != nil {
		slog.Error("Manager send failed", "phone", phone, "error", err)
		return
	}
	if id != "" {
		if err := m.store.TrackBotMessage(id, phone); err != nil {
			slog.Warn("Manager bot message tracking failed", "phone", phone, "error", err)
		}
	}
}

func progressiveUpdateMessage(interval, waitedMinutes int) string {
	switch interval {
	case 10:
		return fmt.Sprintf("Quick update: you've been waiting about %d minutes for our team. "+
			"You're in the queue and someone will reach out soon. Estimated wait: 10-20 more minutes.", waitedMinutes)
	case 20:
		return "20-minute update: you're still our priority. Our team is finishing up with other customers. " +
			"Updated estimate: 15-25 more minutes. I can also help with most questions right now if you'd like."
	case 30:
		return "I'm sorry this is taking longer than expected. You're still in the queue for our team. " +
			"Realistic estimate: 15-30 more minutes. Reply here anytime and I'll do my best to help in the meantime."
	case 45:
		return "45 minutes is longer than acceptable, and I apologize. Final estimate: 10-15 more minutes, " +
			"or I can help you immediately with most requests. Just reply and I'll jump in."
	default:
		return fmt.Sprintf("Thank you for your patience! You've been waiting %d minutes and we appreciate your understanding.", waitedMinutes)
	}
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
