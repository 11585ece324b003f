package models

import "time"

// Contact is a CRM contact keyed by canonical phone number.
type Contact struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Company   string    `json:"company,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	LeadScore int       `json:"lead_score"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks a Contact before it is persisted.
func (c *Contact) Validate() error {
	if c.Phone == "" {
		return ErrEmptyRecipient
	}
	return nil
}

// LeadStatus represents the pipeline status of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusLost      LeadStatus = "lost"
)

// IsValidLeadStatus checks if the given lead status is supported.
func IsValidLeadStatus(s LeadStatus) bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusConverted, LeadStatusLost:
		return true
	default:
		return false
	}
}

// LeadQuality grades a qualified lead.
type LeadQuality string

const (
	LeadQualityHigh         LeadQuality = "HIGH"
	LeadQualityMedium       LeadQuality = "MEDIUM"
	LeadQualityLow          LeadQuality = "LOW"
	LeadQualityNotQualified LeadQuality = "NOT_QUALIFIED"
)

// Lead is a sales lead attached to a contact.
type Lead struct {
	ID        string      `json:"id"`
	ContactID string      `json:"contact_id,omitempty"`
	Phone     string      `json:"phone"`
	Status    LeadStatus  `json:"status"`
	Quality   LeadQuality `json:"quality,omitempty"`
	Score     int         `json:"score"`
	Source    string      `json:"source,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Validate checks a Lead before it is persisted.
func (l *Lead) Validate() error {
	if l.Phone == "" {
		return ErrEmptyRecipient
	}
	if l.Status != "" && !IsValidLeadStatus(l.Status) {
		return ErrInvalidLeadStatus
	}
	return nil
}

// LeadInteraction records a touch point on a lead.
type LeadInteraction struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	Kind      string    `json:"kind"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LeadAnalytics aggregates the lead pipeline for the dashboard.
type LeadAnalytics struct {
	Total          int                 `json:"total"`
	ByStatus       map[LeadStatus]int  `json:"by_status"`
	ByQuality      map[LeadQuality]int `json:"by_quality"`
	AverageScore   float64             `json:"average_score"`
	ConversionRate float64             `json:"conversion_rate"`
}

// DealStage represents the pipeline stage of a deal.
type DealStage string

const (
	DealStageProspect    DealStage = "prospect"
	DealStageProposal    DealStage = "proposal"
	DealStageNegotiation DealStage = "negotiation"
	DealStageWon         DealStage = "won"
	DealStageLost        DealStage = "lost"
)

// IsValidDealStage checks if the given deal stage is supported.
func IsValidDealStage(s DealStage) bool {
	switch s {
	case DealStageProspect, DealStageProposal, DealStageNegotiation, DealStageWon, DealStageLost:
		return true
	default:
		return false
	}
}

// Deal is a sales opportunity attached to a contact.
type Deal struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Title     string    `json:"title"`
	Value     float64   `json:"value"`
	Stage     DealStage `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks a Deal before it is persisted.
func (d *Deal) Validate() error {
	if d.Title == "" {
		return ErrEmptyBody
	}
	if d.Stage != "" && !IsValidDealStage(d.Stage) {
		return ErrInvalidDealStage
	}
	return nil
}

// TaskPriority represents the urgency of a follow-up task.
type TaskPriority string

const (
	TaskPriorityUrgent TaskPriority = "urgent"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityNormal TaskPriority = "normal"
)

// IsValidTaskPriority checks if the given task priority is supported.
func IsValidTaskPriority(p TaskPriority) bool {
	switch p {
	case TaskPriorityUrgent, TaskPriorityHigh, TaskPriorityMedium, TaskPriorityNormal:
		return true
	default:
		return false
	}
}

// Task is a follow-up item for an agent, optionally tied to a contact.
type Task struct {
	ID          string       `json:"id"`
	ContactID   string       `json:"contact_id,omitempty"`
	Title       string       `json:"title"`
	DueAt       *time.Time   `json:"due_at,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Done        bool         `json:"done"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Validate checks a Task before it is persisted.
func (t *Task) Validate() error {
	if t.Title == "" {
		return ErrEmptyBody
	}
	if t.Priority != "" && !IsValidTaskPriority(t.Priority) {
		return ErrInvalidTaskPriority
	}
	return nil
}

// Activity is an audit-trail entry on a contact.
type Activity struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomerContext is the merged CRM view returned for one phone number
// and injected into LLM prompts.
type CustomerContext struct {
	Contact        *Contact  `json:"contact,omitempty"`
	Lead           *Lead     `json:"lead,omitempty"`
	OpenDeals      []Deal    `json:"open_deals,omitempty"`
	OpenTasks      []Task    `json:"open_tasks,omitempty"`
	RecentMessages []Message `json:"recent_messages,omitempty"`
}

// ScoreAdjustment is the payload for the lead-score endpoint.
type ScoreAdjustment struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}
