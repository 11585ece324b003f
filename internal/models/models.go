// Package models defines the core data structures for wabot.
//
// It includes conversation, message, and API envelope types shared across modules.
package models

import (
	"errors"
	"time"
)

// ConversationMode describes who is currently handling a conversation.
type ConversationMode string

const (
	// ModeBot indicates the bot replies automatically.
	ModeBot ConversationMode = "bot"
	// ModePendingHuman indicates a handover was requested and the customer is waiting.
	ModePendingHuman ConversationMode = "pending_human"
	// ModeHuman indicates a human agent owns the conversation.
	ModeHuman ConversationMode = "human"
	// ModePaused indicates the bot is disabled without an active handover.
	ModePaused ConversationMode = "paused"
)

// IsValidConversationMode checks if the given mode is supported.
func IsValidConversationMode(m ConversationMode) bool {
	switch m {
	case ModeBot, ModePendingHuman, ModeHuman, ModePaused:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for outbound message bodies
	MaxMessageBodyLength = 4096
	// MinPhoneDigits defines the minimum number of digits in a recipient phone number
	MinPhoneDigits = 10
	// MaxPhoneDigits defines the maximum number of digits in a recipient phone number
	MaxPhoneDigits = 15
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient      = errors.New("recipient cannot be empty")
	ErrEmptyBody           = errors.New("message body cannot be empty")
	ErrBodyTooLong         = errors.New("message body exceeds maximum length")
	ErrInvalidPhone        = errors.New("phone number must contain 10 to 15 digits")
	ErrEmptyQuery          = errors.New("query cannot be empty")
	ErrNoRecipients        = errors.New("at least one recipient is required")
	ErrTooManyRecipients   = errors.New("too many recipients in a single campaign")
	ErrInvalidSendAt       = errors.New("send_at must be in the future")
	ErrEmptyGroupJID       = errors.New("group JID cannot be empty")
	ErrInvalidLeadStatus   = errors.New("invalid lead status")
	ErrInvalidDealStage    = errors.New("invalid deal stage")
	ErrInvalidTaskPriority = errors.New("invalid task priority")
)

// MessageDirection indicates whether a message was received or sent.
type MessageDirection string

const (
	// DirectionInbound is a message received from the customer.
	DirectionInbound MessageDirection = "in"
	// DirectionOutbound is a message sent by the bot or an operator.
	DirectionOutbound MessageDirection = "out"
)

// MessageRole mirrors the chat-completion role stored alongside each message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusPending indicates the message has not been handed to the gateway yet.
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusSent indicates the gateway accepted the message.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Message is one side of a conversation exchange.
type Message struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversation_id"`
	GatewayMessageID string           `json:"gateway_message_id,omitempty"`
	Direction        MessageDirection `json:"direction"`
	Role             MessageRole      `json:"role"`
	Body             string           `json:"body"`
	Status           MessageStatus    `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Conversation tracks one customer chat thread and its bot/handover state.
type Conversation struct {
	ID                       string           `json:"id"`
	Phone                    string           `json:"phone"`
	ContactID                string           `json:"contact_id,omitempty"`
	Mode                     ConversationMode `json:"mode"`
	BotEnabled               bool             `json:"bot_enabled"`
	HandoverRequestedAt      *time.Time       `json:"handover_requested_at,omitempty"`
	HandoverReason           string           `json:"handover_reason,omitempty"`
	HandoverUpdatesSent      map[string]bool  `json:"handover_updates_sent,omitempty"`
	HandoverResolvedAt       *time.Time       `json:"handover_resolved_at,omitempty"`
	HandoverResolutionReason string           `json:"handover_resolution_reason,omitempty"`
	LastMessageAt            *time.Time       `json:"last_message_at,omitempty"`
	CreatedAt                time.Time        `json:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// WebhookEventStatus tracks the processing lifecycle of a received webhook event.
type WebhookEventStatus string

const (
	WebhookStatusProcessing WebhookEventStatus = "processing"
	WebhookStatusProcessed  WebhookEventStatus = "processed"
	WebhookStatusFailed     WebhookEventStatus = "failed"
	WebhookStatusUnknown    WebhookEventStatus = "unknown"
)

// WebhookEvent is the audit record of a single gateway callback.
type WebhookEvent struct {
	ID        int64              `json:"id"`
	EventType string             `json:"event_type"`
	Payload   string             `json:"payload"`
	Status    WebhookEventStatus `json:"status"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// SendMessageRequest is the payload for the operator send endpoint.
type SendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Validate checks a SendMessageRequest before it reaches the gateway.
func (r *SendMessageRequest) Validate() error {
	if r.Phone == "" {
		return ErrEmptyRecipient
	}
	if r.Message == "" {
		return ErrEmptyBody
	}
	if len(r.Message) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// StartConversationRequest is the payload for operator-initiated first contact.
type StartConversationRequest struct {
	Phone   string `json:"phone"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"` // optional opener; generated when empty
}

// Validate checks a StartConversationRequest.
func (r *StartConversationRequest) Validate() error {
	if r.Phone == "" {
		return ErrEmptyRecipient
	}
	if len(r.Message) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusAccepted indicates an API request was accepted for background processing.
	APIStatusAccepted APIStatus = "accepted"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Accepted creates an accepted API response with optional result data.
func Accepted(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusAccepted).
		WithResult(result).
		Build()
}

// AcceptedWithMessage creates an accepted API response with a message and result data.
func AcceptedWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusAccepted).
		WithMessage(message).
		WithResult(result).
		Build()
}
