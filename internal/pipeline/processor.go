// Package pipeline processes inbound customer messages: persistence,
// handover detection, lead qualification, reply generation, and delivery.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/genai"
	"github.com/fluxkit/wabot/internal/handover"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// Constants for pipeline configuration
const (
	// DefaultHistoryLimit is how many prior messages feed the reply prompt
	DefaultHistoryLimit = 10
	// DefaultSystemPrompt steers reply generation when no override is set
	DefaultSystemPrompt = "You are a helpful WhatsApp assistant for a business. " +
		"Answer customer questions accurately and concisely using the provided " +
		"business information and customer context. Keep replies short and " +
		"conversational. If you don't know something, say so and offer to " +
		"connect the customer with the team."
	// FallbackReply is sent when reply generation fails entirely
	FallbackReply = "Sorry, I'm having trouble responding right now. " +
		"Please try again in a few minutes, or reply \"talk to a human\" to reach our team."
)

// Replier generates assistant replies from conversation history.
type Replier interface {
	GenerateReply(ctx context.Context, systemPrompt string, history []genai.Turn, userMessage string) (string, error)
}

// Detector classifies messages for handover intent.
type Detector interface {
	Detect(ctx context.Context, message, customerContext string) handover.Detection
}

// HandoverTrigger starts the handover lifecycle for a conversation.
type HandoverTrigger interface {
	Trigger(ctx context.Context, conv *models.Conversation, triggerMessage, reason string) error
}

// LeadQualifier analyzes messages for business intent. Implementations
// must never block the reply.
type LeadQualifier interface {
	Process(ctx context.Context, phone, message string, history []models.Message)
}

// KnowledgeSearcher retrieves business documents relevant to a query.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, limit int, threshold float64) ([]models.KnowledgeSearchResult, error)
}

// ContextBuilder formats knowledge results into a prompt block.
type ContextBuilder func([]models.KnowledgeSearchResult) string

// Opts holds configurable options for the processor.
type Opts struct {
	SystemPrompt string
	HistoryLimit int
	Qualifier    LeadQualifier
	Knowledge    KnowledgeSearcher
	BuildContext ContextBuilder
}

// Option defines a functional option for configuring the processor.
type Option func(*Opts)

// WithSystemPrompt overrides the reply system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithHistoryLimit sets how many prior messages feed the reply prompt.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) { o.HistoryLimit = n }
}

// WithQualifier enables the lead qualification stage.
func WithQualifier(q LeadQualifier) Option {
	return func(o *Opts) { o.Qualifier = q }
}

// WithKnowledge enables RAG retrieval for reply generation.
func WithKnowledge(k KnowledgeSearcher, build ContextBuilder) Option {
	return func(o *Opts) {
		o.Knowledge = k
		o.BuildContext = build
	}
}

// Processor runs the inbound message pipeline.
type Processor struct {
	store        store.Store
	sender       gateway.Sender
	replier      Replier
	detector     Detector
	handover     HandoverTrigger
	qualifier    LeadQualifier
	knowledge    KnowledgeSearcher
	buildContext ContextBuilder
	systemPrompt string
	historyLimit int
}

// NewProcessor creates a message Processor.
func NewProcessor(st store.Store, sender gateway.Sender, replier Replier, detector Detector, trigger HandoverTrigger, opts ...Option) *Processor {
	cfg := Opts{SystemPrompt: DefaultSystemPrompt, HistoryLimit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Processor{
		store:        st,
		sender:       sender,
		replier:      replier,
		detector:     detector,
		handover:     trigger,
		qualifier:    cfg.Qualifier,
		knowledge:    cfg.Knowledge,
		buildContext: cfg.BuildContext,
		systemPrompt: cfg.SystemPrompt,
		historyLimit: cfg.HistoryLimit,
	}
}

// ProcessInbound runs the pipeline for one inbound user message.
func (p *Processor) ProcessInbound(ctx context.Context, phone, body, gatewayMessageID string) error {
	if gatewayMessageID != "" {
		fresh, err := p.store.RecordInbound(gatewayMessageID, phone)
		if err != nil {
			return fmt.Errorf("inbound dedup failed: %w", err)
		}
		if !fresh {
			slog.Debug("Processor.ProcessInbound duplicate dropped", "phone", phone, "messageID", gatewayMessageID)
			return nil
		}
	}

	conv, err := p.store.GetConversationByPhone(phone)
	if err != nil {
		return fmt.Errorf("conversation lookup failed: %w", err)
	}
	if conv == nil {
		conv = &models.Conversation{Phone: phone}
	}
	now := time.Now()
	conv.LastMessageAt = &now
	if err := p.store.SaveConversation(conv); err != nil {
		return fmt.Errorf("conversation save failed: %w", err)
	}

	userMsg := &models.Message{
		ConversationID:   conv.ID,
		GatewayMessageID: gatewayMessageID,
		Direction:        models.DirectionInbound,
		Role:             models.RoleUser,
		Body:             body,
		Status:           models.MessageStatusDelivered,
	}
	if err := p.store.SaveMessage(userMsg); err != nil {
		return fmt.Errorf("user message save failed: %w", err)
	}

	history, err := p.store.ListMessages(conv.ID, p.historyLimit)
	if err != nil {
		slog.Warn("Processor history load failed", "phone", phone, "error", err)
	}
	// The just-saved user message is not history.
	if n := len(history); n > 0 && history[n-1].GatewayMessageID == gatewayMessageID && history[n-1].Body == body {
		history = history[:n-1]
	}

	// Handover detection runs even when the bot is off so a waiting
	// customer can still escalate.
	detection := p.detector.Detect(ctx, body, p.customerContextSummary(phone))
	if detection.RequiresHuman && conv.Mode != models.ModePendingHuman {
		if err := p.handover.Trigger(ctx, conv, body, detection.Reason); err != nil {
			return fmt.Errorf("handover trigger failed: %w", err)
		}
		p.markProcessed(gatewayMessageID)
		return nil
	}

	if p.qualifier != nil {
		p.qualifier.Process(ctx, phone, body, history)
	}

	if !conv.BotEnabled {
		slog.Debug("Processor bot disabled, message stored without reply", "phone", phone, "mode", conv.Mode)
		p.markProcessed(gatewayMessageID)
		return nil
	}

	reply := p.generateReply(ctx, phone, body, history)

	sentID, sendErr := gateway.SendWithRetry(ctx, p.sender, phone, reply)
	assistantMsg := &models.Message{
		ConversationID:   conv.ID,
		GatewayMessageID: sentID,
		Direction:        models.DirectionOutbound,
		Role:             models.RoleAssistant,
		Body:             reply,
		Status:           models.MessageStatusSent,
	}
	if sendErr != nil {
		assistantMsg.Status = models.MessageStatusFailed
	}
	if err := p.store.SaveMessage(assistantMsg); err != nil {
		slog.Error("Processor assistant message save failed", "phone", phone, "error", err)
	}
	if sentID != "" {
		if err := p.store.TrackBotMessage(sentID, phone); err != nil {
			slog.Warn("Processor bot message tracking failed", "phone", phone, "error", err)
		}
	}
	p.markProcessed(gatewayMessageID)

	if sendErr != nil {
		return fmt.Errorf("reply delivery failed: %w", sendErr)
	}
	return nil
}

// generateReply builds the context-enriched prompt and falls back to a
// plain completion, then to static text.
func (p *Processor) generateReply(ctx context.Context, phone, body string, history []models.Message) string {
	turns := make([]genai.Turn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, genai.Turn{Role: string(msg.Role), Content: msg.Body})
	}

	prompt := p.systemPrompt
	if crm := p.customerContextSummary(phone); crm != "" {
		prompt += "\n\nCustomer context:\n" + crm
	}
	if p.knowledge != nil {
		results, err := p.knowledge.Search(ctx, body, 0, 0)
		if err != nil {
			slog.Warn("Processor knowledge search failed", "phone", phone, "error", err)
		} else if block := p.buildContext(results); block != "" {
			prompt += "\n\n" + block
		}
	}

	reply, err := p.replier.GenerateReply(ctx, prompt, turns, body)
	if err == nil {
		return reply
	}
	slog.Warn("Processor enriched reply failed, retrying plain", "phone", phone, "error", err)

	reply, err = p.replier.GenerateReply(ctx, p.systemPrompt, turns, body)
	if err == nil {
		return reply
	}
	slog.Error("Processor reply generation failed", "phone", phone, "error", err)
	return FallbackReply
}

// customerContextSummary renders the CRM view of a phone number as prompt
// text. An empty string means no CRM data exists yet.
func (p *Processor) customerContextSummary(phone string) string {
	contact, err := p.store.GetContactByPhone(phone)
	if err != nil || contact == nil {
		return ""
	}
	var b strings.Builder
	if contact.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", contact.Name)
	}
	if contact.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", contact.Company)
	}
	if len(contact.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(contact.Tags, ", "))
	}
	fmt.Fprintf(&b, "Lead score: %d\n", contact.LeadScore)

	if lead, err := p.store.GetLeadByPhone(phone); err == nil && lead != nil {
		fmt.Fprintf(&b, "Lead status: %s", lead.Status)
		if lead.Quality != "" {
			fmt.Fprintf(&b, " (%s)", lead.Quality)
		}
		b.WriteString("\n")
	}
	if deals, err := p.store.ListOpenDealsByContact(contact.ID); err == nil && len(deals) > 0 {
		fmt.Fprintf(&b, "Open deals: %d\n", len(deals))
	}
	return strings.TrimSpace(b.String())
}

func (p *Processor) markProcessed(gatewayMessageID string) {
	if gatewayMessageID == "" {
		return
	}
	if err := p.store.MarkProcessed(gatewayMessageID); err != nil {
		slog.Warn("Processor dedup mark failed", "messageID", gatewayMessageID, "error", err)
	}
}
