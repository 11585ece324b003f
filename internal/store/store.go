// Package store provides storage backends for wabot.
//
// Two implementations exist: PostgresStore for production and SQLiteStore for
// development and tests. Both apply their embedded migrations on startup.
package store

import (
	"strings"
	"time"

	"github.com/fluxkit/wabot/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(path string) Option {
	return func(o *Opts) { o.DSN = path }
}

// DSNType identifies which backend a DSN addresses.
type DSNType string

const (
	DSNTypePostgres DSNType = "postgres"
	DSNTypeSQLite   DSNType = "sqlite"
)

// DetectDSNType inspects a DSN and reports the backend it belongs to.
// Anything that does not look like a Postgres connection string is
// treated as a SQLite file path.
func DetectDSNType(dsn string) DSNType {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// ConversationRepo persists conversations and their bot/handover state.
type ConversationRepo interface {
	// SaveConversation upserts a conversation keyed by phone.
	SaveConversation(c *models.Conversation) error

	// GetConversation retrieves a conversation by ID, (nil, nil) when absent.
	GetConversation(id string) (*models.Conversation, error)

	// GetConversationByPhone retrieves a conversation by canonical phone,
	// (nil, nil) when absent.
	GetConversationByPhone(phone string) (*models.Conversation, error)

	// ListConversations returns conversations ordered by last activity, newest first.
	ListConversations(limit, offset int) ([]models.Conversation, error)

	// SearchConversations matches phone numbers and message bodies.
	SearchConversations(query string, limit int) ([]models.Conversation, error)

	// ListPendingHandovers returns conversations in pending_human mode,
	// oldest request first.
	ListPendingHandovers() ([]models.Conversation, error)

	// SetBotEnabledAll flips bot_enabled on every conversation and returns
	// the number updated.
	SetBotEnabledAll(enabled bool) (int, error)

	// CountConversations returns the total number of conversations.
	CountConversations() (int, error)

	// CountConversationsByMode returns conversation counts grouped by mode.
	CountConversationsByMode() (map[models.ConversationMode]int, error)
}

// MessageRepo persists individual chat messages.
type MessageRepo interface {
	// SaveMessage inserts a message.
	SaveMessage(m *models.Message) error

	// ListMessages returns the most recent messages of a conversation in
	// chronological order.
	ListMessages(conversationID string, limit int) ([]models.Message, error)

	// CountMessages returns how many messages a conversation holds.
	CountMessages(conversationID string) (int, error)

	// UpdateMessageStatusByGatewayID applies a delivery receipt. Missing
	// messages are ignored.
	UpdateMessageStatusByGatewayID(gatewayMessageID string, status models.MessageStatus) error

	// CountMessagesSince counts messages created at or after the given time.
	CountMessagesSince(since time.Time) (int, error)
}

// ContactRepo persists CRM contacts.
type ContactRepo interface {
	// SaveContact upserts a contact keyed by phone. A missing ID is generated.
	SaveContact(c *models.Contact) error

	// GetContact retrieves a contact by ID, (nil, nil) when absent.
	GetContact(id string) (*models.Contact, error)

	// GetContactByPhone retrieves a contact by canonical phone, (nil, nil) when absent.
	GetContactByPhone(phone string) (*models.Contact, error)

	// ListContacts returns contacts ordered by creation, newest first.
	ListContacts(limit, offset int) ([]models.Contact, error)

	// SearchContacts matches name, phone, email, and company.
	SearchContacts(query string, limit int) ([]models.Contact, error)

	// AdjustLeadScore adds delta to a contact's lead score, clamped to 0-100,
	// and returns the new score.
	AdjustLeadScore(contactID string, delta int) (int, error)

	// CountContacts returns the total number of contacts.
	CountContacts() (int, error)
}

// LeadRepo persists leads and the qualification audit log.
type LeadRepo interface {
	// SaveLead upserts a lead keyed by phone. A missing ID is generated.
	SaveLead(l *models.Lead) error

	// GetLead retrieves a lead by ID, (nil, nil) when absent.
	GetLead(id string) (*models.Lead, error)

	// GetLeadByPhone retrieves a lead by phone, (nil, nil) when absent.
	GetLeadByPhone(phone string) (*models.Lead, error)

	// ListLeads returns leads ordered by update time, newest first.
	ListLeads(limit, offset int) ([]models.Lead, error)

	// AddLeadInteraction records a touch point on a lead.
	AddLeadInteraction(i *models.LeadInteraction) error

	// ListLeadInteractions returns a lead's interactions, newest first.
	ListLeadInteractions(leadID string) ([]models.LeadInteraction, error)

	// LeadAnalytics aggregates the lead pipeline.
	LeadAnalytics() (*models.LeadAnalytics, error)

	// CountLeadsByStatus counts leads in the given status.
	CountLeadsByStatus(status models.LeadStatus) (int, error)

	// LogLeadQualification appends one qualification pass to the audit log.
	LogLeadQualification(phone string, qualified bool, confidence float64, score int, quality models.LeadQuality, reason string) error

	// LastQualificationAt returns when the phone was last analyzed, nil when never.
	LastQualificationAt(phone string) (*time.Time, error)
}

// DealRepo persists deals.
type DealRepo interface {
	// SaveDeal upserts a deal. A missing ID is generated.
	SaveDeal(d *models.Deal) error

	// GetDeal retrieves a deal by ID, (nil, nil) when absent.
	GetDeal(id string) (*models.Deal, error)

	// ListDeals returns deals ordered by update time, newest first.
	ListDeals(limit, offset int) ([]models.Deal, error)

	// ListOpenDealsByContact returns a contact's deals not yet won or lost.
	ListOpenDealsByContact(contactID string) ([]models.Deal, error)
}

// TaskRepo persists follow-up tasks.
type TaskRepo interface {
	// SaveTask upserts a task. A missing ID is generated.
	SaveTask(t *models.Task) error

	// GetTask retrieves a task by ID, (nil, nil) when absent.
	GetTask(id string) (*models.Task, error)

	// ListTasks returns tasks, open first, then by due time.
	ListTasks(limit, offset int) ([]models.Task, error)

	// ListOpenTasksByContact returns a contact's open tasks.
	ListOpenTasksByContact(contactID string) ([]models.Task, error)

	// CompleteTask marks a task done and stamps completed_at.
	CompleteTask(id string) error

	// DeleteTask removes a task.
	DeleteTask(id string) error
}

// ActivityRepo persists the contact audit trail.
type ActivityRepo interface {
	// AddActivity records an activity on a contact. A missing ID is generated.
	AddActivity(a *models.Activity) error

	// ListActivities returns a contact's activities, newest first.
	ListActivities(contactID string, limit int) ([]models.Activity, error)
}

// CampaignRepo persists bulk campaigns and their per-recipient outcomes.
type CampaignRepo interface {
	// CreateCampaign inserts a campaign together with its recipient rows.
	CreateCampaign(c *models.Campaign, recipients []string) error

	// GetCampaign retrieves a campaign by ID, (nil, nil) when absent.
	GetCampaign(id string) (*models.Campaign, error)

	// ListCampaigns returns campaigns, newest first.
	ListCampaigns(limit, offset int) ([]models.Campaign, error)

	// UpdateCampaign persists status and tallies of an existing campaign.
	UpdateCampaign(c *models.Campaign) error

	// ListCampaignRecipients returns the recipient rows of a campaign.
	ListCampaignRecipients(campaignID string) ([]models.CampaignRecipient, error)

	// UpdateCampaignRecipient persists the outcome of one recipient send.
	UpdateCampaignRecipient(r *models.CampaignRecipient) error

	// CountActiveCampaigns counts campaigns in pending or in_progress state.
	CountActiveCampaigns() (int, error)
}

// GroupRepo persists group metadata and group sends.
type GroupRepo interface {
	// SaveGroup upserts group metadata keyed by JID.
	SaveGroup(g *models.GroupInfo) error

	// ListGroups returns known groups ordered by name.
	ListGroups() ([]models.GroupInfo, error)

	// SaveGroupMessage logs a group send. A missing ID is generated.
	SaveGroupMessage(m *models.GroupMessage) error

	// ListGroupMessages returns a group's send log, newest first.
	ListGroupMessages(groupJID string, limit int) ([]models.GroupMessage, error)

	// SaveScheduledGroupMessage upserts a scheduled message. A missing ID is generated.
	SaveScheduledGroupMessage(m *models.ScheduledGroupMessage) error

	// GetScheduledGroupMessage retrieves one scheduled message, (nil, nil) when absent.
	GetScheduledGroupMessage(id string) (*models.ScheduledGroupMessage, error)

	// ListScheduledGroupMessages returns scheduled messages, soonest first.
	ListScheduledGroupMessages(limit int) ([]models.ScheduledGroupMessage, error)

	// DueScheduledGroupMessages returns messages still scheduled whose send
	// time has passed.
	DueScheduledGroupMessages(now time.Time) ([]models.ScheduledGroupMessage, error)
}

// WebhookLogRepo records received gateway callbacks.
type WebhookLogRepo interface {
	// LogWebhookEvent inserts an event in processing state and returns its ID.
	LogWebhookEvent(eventType, payload string) (int64, error)

	// UpdateWebhookEventStatus finalizes an event's lifecycle status.
	UpdateWebhookEventStatus(id int64, status models.WebhookEventStatus, errMsg string) error
}

// BotSentRepo tracks gateway message IDs the bot produced, so webhook
// echoes of our own sends never re-enter the pipeline.
type BotSentRepo interface {
	// TrackBotMessage records an outbound gateway message ID.
	TrackBotMessage(gatewayMessageID, phone string) error

	// WasSentByBot reports whether the gateway message ID belongs to a bot send.
	WasSentByBot(gatewayMessageID string) (bool, error)

	// PruneBotMessages removes tracked IDs older than the cutoff and returns
	// the number removed.
	PruneBotMessages(before time.Time) (int, error)
}

// Store is the full persistence surface the service is wired against.
type Store interface {
	ConversationRepo
	MessageRepo
	ContactRepo
	LeadRepo
	DealRepo
	TaskRepo
	ActivityRepo
	CampaignRepo
	GroupRepo
	WebhookLogRepo
	BotSentRepo
	DedupRepo
	JobRepo
	OutboxRepo

	// Close releases the underlying database handle.
	Close() error
}
