package models

import "time"

// Campaign limits and pacing.
const (
	// MaxCampaignRecipients defines the maximum number of recipients per campaign.
	MaxCampaignRecipients = 100
	// MaxCampaignSendPasses defines how many passes the dispatcher makes over failed recipients.
	MaxCampaignSendPasses = 3
)

// CampaignStatus tracks the lifecycle of a bulk campaign.
type CampaignStatus string

const (
	CampaignStatusPending    CampaignStatus = "pending"
	CampaignStatusInProgress CampaignStatus = "in_progress"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusCancelled  CampaignStatus = "cancelled"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// Campaign is one bulk send run over a fixed recipient list.
type Campaign struct {
	ID         string         `json:"id"`
	Body       string         `json:"body"`
	Status     CampaignStatus `json:"status"`
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// CampaignRecipient is the per-phone outcome within a campaign.
type CampaignRecipient struct {
	CampaignID string     `json:"campaign_id"`
	Phone      string     `json:"phone"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// CampaignRequest is the payload for creating a campaign.
type CampaignRequest struct {
	Message  string   `json:"message"`
	Contacts []string `json:"contacts"`
}

// Validate checks a CampaignRequest. Per-phone validation happens in the
// campaign service where numbers are canonicalized.
func (r *CampaignRequest) Validate() error {
	if r.Message == "" {
		return ErrEmptyBody
	}
	if len(r.Message) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	if len(r.Contacts) == 0 {
		return ErrNoRecipients
	}
	if len(r.Contacts) > MaxCampaignRecipients {
		return ErrTooManyRecipients
	}
	return nil
}
