package models

import (
	"encoding/json"
	"strings"
)

// Gateway webhook event names.
const (
	EventMessagesUpsert = "messages.upsert"
	EventMessagesUpdate = "messages.update"
	EventReceiptUpdate  = "message-receipt.update"
	EventMessageSent    = "message.sent"
)

// WebhookPayload is the outer envelope every gateway callback shares.
type WebhookPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MessageKey identifies a message within the gateway.
type MessageKey struct {
	ID        string `json:"id"`
	FromMe    bool   `json:"fromMe"`
	RemoteJID string `json:"remoteJid"`
}

// IsGroup reports whether the key addresses a group chat.
func (k MessageKey) IsGroup() bool {
	return strings.HasSuffix(k.RemoteJID, "@g.us")
}

// IsIndividual reports whether the key addresses a one-to-one chat.
func (k MessageKey) IsIndividual() bool {
	return strings.HasSuffix(k.RemoteJID, "@s.whatsapp.net")
}

// ExtendedText carries the text of a reply or link-preview message.
type ExtendedText struct {
	Text string `json:"text"`
}

// MessageContent holds the supported message body variants.
type MessageContent struct {
	Conversation        string        `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedText `json:"extendedTextMessage,omitempty"`
}

// IncomingMessage is one entry of a messages.upsert event.
type IncomingMessage struct {
	Key             MessageKey      `json:"key"`
	Message         *MessageContent `json:"message,omitempty"`
	MessageStubType string          `json:"messageStubType,omitempty"`
	PushName        string          `json:"pushName,omitempty"`
	Timestamp       int64           `json:"messageTimestamp,omitempty"`
}

// Text extracts the plain-text body, empty when the message carries none.
func (m *IncomingMessage) Text() string {
	if m.Message == nil {
		return ""
	}
	if m.Message.Conversation != "" {
		return m.Message.Conversation
	}
	if m.Message.ExtendedTextMessage != nil {
		return m.Message.ExtendedTextMessage.Text
	}
	return ""
}

// IsSystem reports whether the entry is a protocol stub rather than user content.
func (m *IncomingMessage) IsSystem() bool {
	return m.MessageStubType != "" || m.Message == nil
}

// messageList tolerates the gateway sending either a single message
// object or an array under the "messages" field.
type messageList []IncomingMessage

func (l *messageList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var single IncomingMessage
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = messageList{single}
		return nil
	}
	var many []IncomingMessage
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = messageList(many)
	return nil
}

// MessagesUpsertData is the data section of a messages.upsert event.
type MessagesUpsertData struct {
	Messages messageList `json:"messages"`
}

// First returns the first message of the batch, nil when empty.
func (d *MessagesUpsertData) First() *IncomingMessage {
	if len(d.Messages) == 0 {
		return nil
	}
	return &d.Messages[0]
}

// ReceiptUpdate is one entry of a message-receipt.update event.
type ReceiptUpdate struct {
	Key     MessageKey `json:"key"`
	Receipt struct {
		Type string `json:"type"`
	} `json:"receipt"`
	// messages.update events carry the state under update.status instead.
	Update struct {
		Status string `json:"status"`
	} `json:"update"`
}

// ReceiptUpdateData is the data section of a receipt event.
type ReceiptUpdateData struct {
	Receipts []ReceiptUpdate
}

// UnmarshalJSON accepts both a bare array and an object wrapping one.
func (d *ReceiptUpdateData) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &d.Receipts)
	}
	var single ReceiptUpdate
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	d.Receipts = []ReceiptUpdate{single}
	return nil
}

// MessageStatusFromReceipt maps a gateway receipt type onto a stored
// message status. Unknown types map to the empty status.
func MessageStatusFromReceipt(receiptType string) MessageStatus {
	switch strings.ToLower(receiptType) {
	case "delivered", "delivery":
		return MessageStatusDelivered
	case "read", "played":
		return MessageStatusRead
	default:
		return ""
	}
}
