package models

import "time"

// GroupInfo describes a WhatsApp group the account participates in.
type GroupInfo struct {
	JID          string    `json:"jid"`
	Name         string    `json:"name"`
	Participants int       `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// GroupMessage logs one send to a group JID.
type GroupMessage struct {
	ID               string    `json:"id"`
	GroupJID         string    `json:"group_jid"`
	Body             string    `json:"body"`
	GatewayMessageID string    `json:"gateway_message_id,omitempty"`
	Status           MessageStatus `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// ScheduledStatus tracks the lifecycle of a scheduled group message.
type ScheduledStatus string

const (
	ScheduledStatusScheduled ScheduledStatus = "scheduled"
	ScheduledStatusSent      ScheduledStatus = "sent"
	ScheduledStatusCancelled ScheduledStatus = "cancelled"
	ScheduledStatusFailed    ScheduledStatus = "failed"
)

// ScheduledGroupMessage is a group message waiting for its send time.
type ScheduledGroupMessage struct {
	ID        string          `json:"id"`
	GroupJID  string          `json:"group_jid"`
	Body      string          `json:"body"`
	SendAt    time.Time       `json:"send_at"`
	Status    ScheduledStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ScheduleGroupMessageRequest is the payload for scheduling a group message.
type ScheduleGroupMessageRequest struct {
	GroupJID string    `json:"group_jid"`
	Message  string    `json:"message"`
	SendAt   time.Time `json:"send_at"`
}

// Validate checks a ScheduleGroupMessageRequest.
func (r *ScheduleGroupMessageRequest) Validate() error {
	if r.GroupJID == "" {
		return ErrEmptyGroupJID
	}
	if r.Message == "" {
		return ErrEmptyBody
	}
	if len(r.Message) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	if !r.SendAt.After(time.Now()) {
		return ErrInvalidSendAt
	}
	return nil
}

// GroupSendRequest is the payload for an immediate group send.
type GroupSendRequest struct {
	Message string `json:"message"`
}

// Validate checks a GroupSendRequest.
func (r *GroupSendRequest) Validate() error {
	if r.Message == "" {
		return ErrEmptyBody
	}
	if len(r.Message) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}
