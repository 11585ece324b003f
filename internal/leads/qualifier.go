// Package leads qualifies inbound conversations as business leads and
// follows up with a scheduling invitation.
package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// Constants for lead qualification
const (
	// ConfidenceThreshold is the minimum classifier confidence to qualify
	ConfidenceThreshold = 0.6
	// MinQualifiedScore is the minimum lead score to qualify
	MinQualifiedScore = 50
	// MinMessageLength skips messages too short to carry business intent
	MinMessageLength = 5
	// MinConversationDepth is the history length required before qualifying
	MinConversationDepth = 3
	// QualificationCooldown limits how often one phone number is re-analyzed
	QualificationCooldown = 24 * time.Hour
)

// greetingPatterns are simple openers that never carry business intent.
var greetingPatterns = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "ok", "okay", "yes", "no", "sure", "fine",
	"how are you", "what's up", "wassup", "sup", "hola", "namaste",
}

// Classifier runs a JSON-mode completion and returns the raw document.
type Classifier interface {
	ClassifyJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Analysis is the outcome of lead qualification.
type Analysis struct {
	Qualified          bool     `json:"is_qualified_lead"`
	Confidence         float64  `json:"confidence"`
	Quality            string   `json:"lead_quality"`
	Score              int      `json:"lead_score"`
	Reason             string   `json:"reason"`
	BusinessIndicators []string `json:"business_indicators"`
	BuyingSignals      []string `json:"buying_signals"`
	RecommendedAction  string   `json:"recommended_action"`
}

// Opts holds configurable options for the qualifier.
type Opts struct {
	SchedulingURL string
}

// Option defines a functional option for configuring the qualifier.
type Option func(*Opts)

// WithSchedulingURL sets the booking link sent to qualified leads.
func WithSchedulingURL(url string) Option {
	return func(o *Opts) { o.SchedulingURL = url }
}

// Qualifier analyzes inbound messages for business intent and processes
// qualified leads end to end.
type Qualifier struct {
	store         store.Store
	sender        gateway.Sender
	classifier    Classifier
	schedulingURL string
}

// NewQualifier creates a lead Qualifier. The classifier may be nil, which
// disables qualification entirely.
func NewQualifier(st store.Store, sender gateway.Sender, classifier Classifier, opts ...Option) *Qualifier {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Qualifier{store: st, sender: sender, classifier: classifier, schedulingURL: cfg.SchedulingURL}
}

const qualificationSystemPrompt = `You analyze WhatsApp conversations to determine if the user is a GENUINELY QUALIFIED business lead for a discovery call.

CRITICAL: Only qualify leads who demonstrate STRONG business intent. Be very selective.

REQUIRED for qualification (ALL must be present):
1. CLEAR BUSINESS INTENT: asking about business solutions, pricing for business use, implementation or integration needs
2. BUSINESS CONTEXT: mentions their company, role, industry, team, or current business tools
3. BUYING SIGNALS: timeline questions, budget inquiries, decision-making language, comparison shopping
4. CONVERSATION DEPTH: multiple substantive questions with specific business context

AUTOMATICALLY EXCLUDE: simple greetings, general information seekers, personal/consumer inquiries, basic support questions, casual browsers, students or researchers.

QUALIFICATION LEVELS:
- HIGH (85-100): multiple strong business indicators + clear buying signals + detailed engagement
- MEDIUM (70-84): some business context + decent engagement + mild buying signals
- LOW (50-69): limited business indicators with minimal engagement
- NOT_QUALIFIED (0-49): no clear business intent or insufficient context

Respond in this exact JSON format:
{
  "is_qualified_lead": true/false,
  "confidence": 0.0-1.0,
  "lead_quality": "HIGH/MEDIUM/LOW/NOT_QUALIFIED",
  "lead_score": 0-100,
  "reason": "brief explanation",
  "business_indicators": ["detected", "indicators"],
  "buying_signals": ["buying", "signals"],
  "recommended_action": "discovery_call/nurture/qualify_further/none"
}`

// Analyze classifies a message against the conversation history. The
// pre-filters reject obvious non-leads without an API call.
func (q *Qualifier) Analyze(ctx context.Context, message string, history []models.Message) (*Analysis, error) {
	trimmed := strings.TrimSpace(message)
	if len(trimmed) < MinMessageLength {
		return &Analysis{Reason: "message too short", Quality: string(models.LeadQualityNotQualified)}, nil
	}
	if isSimpleGreeting(trimmed) {
		return &Analysis{Reason: "simple greeting, no business intent", Quality: string(models.LeadQualityNotQualified)}, nil
	}
	if len(history) < MinConversationDepth {
		return &Analysis{Reason: "insufficient conversation depth", Quality: string(models.LeadQualityNotQualified)}, nil
	}
	if q.classifier == nil {
		return &Analysis{Reason: "qualification disabled", Quality: string(models.LeadQualityNotQualified)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current message: %q\n\nRecent conversation context:\n", trimmed)
	start := len(history) - 5
	if start < 0 {
		start = 0
	}
	for _, msg := range history[start:] {
		speaker := "Bot"
		if msg.Role == models.RoleUser {
			speaker = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, msg.Body)
	}

	raw, err := q.classifier.ClassifyJSON(ctx, qualificationSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("lead classification failed: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("invalid lead classification document: %w", err)
	}

	// The classifier's verdict stands only with enough confidence and score.
	analysis.Qualified = analysis.Qualified &&
		analysis.Confidence >= ConfidenceThreshold &&
		analysis.Score >= MinQualifiedScore

	slog.Info("Qualifier.Analyze", "qualified", analysis.Qualified, "confidence", analysis.Confidence,
		"quality", analysis.Quality, "score", analysis.Score)
	return &analysis, nil
}

// Process runs the full qualification flow for an inbound message: cooldown
// check, analysis, CRM updates, and the scheduling invitation. Failures are
// logged rather than propagated so the reply pipeline is never blocked.
func (q *Qualifier) Process(ctx context.Context, phone, message string, history []models.Message) {
	last, err := q.store.LastQualificationAt(phone)
	if err != nil {
		slog.Error("Qualifier.Process cooldown lookup failed", "phone", phone, "error", err)
		return
	}
	if last != nil && time.Since(*last) < QualificationCooldown {
		slog.Debug("Qualifier.Process within cooldown, skipping", "phone", phone)
		return
	}

	analysis, err := q.Analyze(ctx, message, history)
	if err != nil {
		slog.Error("Qualifier.Process analysis failed", "phone", phone, "error", err)
		return
	}

	quality := models.LeadQuality(analysis.Quality)
	if logErr := q.store.LogLeadQualification(phone, analysis.Qualified, analysis.Confidence,
		analysis.Score, quality, analysis.Reason); logErr != nil {
		slog.Warn("Qualifier.Process qualification log failed", "phone", phone, "error", logErr)
	}

	if !analysis.Qualified {
		return
	}

	if err := q.handleQualified(ctx, phone, message, analysis); err != nil {
		slog.Error("Qualifier.Process qualified lead handling failed", "phone", phone, "error", err)
	}
}

// handleQualified records the qualified lead in the CRM and sends the
// scheduling invitation.
func (q *Qualifier) handleQualified(ctx context.Context, phone, message string, analysis *Analysis) error {
	contact, err := q.store.GetContactByPhone(phone)
	if err != nil {
		return fmt.Errorf("qualified lead contact lookup failed: %w", err)
	}
	if contact == nil {
		contact = &models.Contact{Phone: phone}
	}
	if err := q.store.SaveContact(contact); err != nil {
		return fmt.Errorf("qualified lead contact save failed: %w", err)
	}

	lead := &models.Lead{
		ContactID: contact.ID,
		Phone:     phone,
		Status:    models.LeadStatusQualified,
		Quality:   models.LeadQuality(analysis.Quality),
		Score:     analysis.Score,
		Source:    "whatsapp",
		Reason:    analysis.Reason,
	}
	if err := q.store.SaveLead(lead); err != nil {
		return fmt.Errorf("qualified lead save failed: %w", err)
	}

	priority := models.TaskPriorityMedium
	if lead.Quality == models.LeadQualityHigh {
		priority = models.TaskPriorityHigh
	}
	task := &models.Task{
		ContactID: contact.ID,
		Title:     "Follow up on qualified lead",
		Priority:  priority,
	}
	if err := q.store.SaveTask(task); err != nil {
		slog.Warn("Qualifier qualified lead task save failed", "phone", phone, "error", err)
	}

	activity := &models.Activity{
		ContactID: contact.ID,
		Kind:      "lead_qualified",
		Detail: fmt.Sprintf("Qualified as %s lead (score %d): %s",
			analysis.Quality, analysis.Score, analysis.Reason),
	}
	if err := q.store.AddActivity(activity); err != nil {
		slog.Warn("Qualifier qualified lead activity save failed", "phone", phone, "error", err)
	}

	if q.schedulingURL == "" {
		slog.Debug("Qualifier scheduling URL not configured, skipping invitation", "phone", phone)
		return nil
	}
	id, err := gateway.SendWithRetry(ctx, q.sender, phone, schedulingMessage(lead.Quality, q.schedulingURL))
	if err != nil {
		return fmt.Errorf("scheduling invitation send failed: %w", err)
	}
	if id != "" {
		if err := q.store.TrackBotMessage(id, phone); err != nil {
			slog.Warn("Qualifier bot message tracking failed", "phone", phone, "error", err)
		}
	}
	slog.Info("Qualifier sent scheduling invitation", "phone", phone, "quality", lead.Quality)
	return nil
}

// schedulingMessage varies the invitation tone by lead quality.
func schedulingMessage(quality models.LeadQuality, url string) string {
	switch quality {
	case models.LeadQualityHigh:
		return "Thanks for your interest in our business solutions!\n\n" +
			"I'd love to schedule a quick 15-minute discovery call to discuss your specific needs.\n\n" +
			"Book your call here: " + url + "\n\nLooking forward to speaking with you!"
	case models.LeadQualityMedium:
		return "Thanks for your interest!\n\n" +
			"I'd love to learn more about your needs. Would you like to schedule a brief 15-minute call?\n\n" +
			"Book here: " + url + "\n\nNo commitment required - just a conversation!"
	default:
		return "Thank you for your interest!\n\n" +
			"Schedule a 15-minute consultation: " + url + "\n\nLooking forward to connecting!"
	}
}

func isSimpleGreeting(message string) bool {
	if len(message) >= 20 {
		return false
	}
	lower := strings.ToLower(message)
	for _, pattern := range greetingPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
