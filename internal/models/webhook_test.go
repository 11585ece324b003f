package models

import (
	"encoding/json"
	"testing"
)

func TestMessagesUpsertSingleObject(t *testing.T) {
	raw := []byte(`{"messages":{"key":{"id":"ABC123","fromMe":false,"remoteJid":"14155550100@s.whatsapp.net"},"message":{"conversation":"hi there"}}}`)
	var data MessagesUpsertData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	msg := data.First()
	if msg == nil {
		t.Fatal("expected one message")
	}
	if msg.Text() != "hi there" {
		t.Errorf("expected text 'hi there', got %q", msg.Text())
	}
	if !msg.Key.IsIndividual() || msg.Key.IsGroup() {
		t.Errorf("expected individual chat, key=%+v", msg.Key)
	}
}

func TestMessagesUpsertArray(t *testing.T) {
	raw := []byte(`{"messages":[{"key":{"id":"X1","remoteJid":"999@g.us"},"message":{"extendedTextMessage":{"text":"linked"}}}]}`)
	var data MessagesUpsertData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	msg := data.First()
	if msg == nil {
		t.Fatal("expected one message")
	}
	if msg.Text() != "linked" {
		t.Errorf("expected extended text, got %q", msg.Text())
	}
	if !msg.Key.IsGroup() {
		t.Error("expected group chat")
	}
}

func TestIncomingMessageIsSystem(t *testing.T) {
	msg := IncomingMessage{MessageStubType: "CALL_MISSED_VOICE"}
	if !msg.IsSystem() {
		t.Error("stub message should be system")
	}
	msg = IncomingMessage{Message: &MessageContent{Conversation: "hi"}}
	if msg.IsSystem() {
		t.Error("text message should not be system")
	}
}

func TestMessageStatusFromReceipt(t *testing.T) {
	cases := map[string]MessageStatus{
		"delivered": MessageStatusDelivered,
		"read":      MessageStatusRead,
		"played":    MessageStatusRead,
		"Read":      MessageStatusRead,
		"typing":    "",
	}
	for in, want := range cases {
		if got := MessageStatusFromReceipt(in); got != want {
			t.Errorf("receipt %q: expected %q, got %q", in, want, got)
		}
	}
}

func TestReceiptUpdateDataShapes(t *testing.T) {
	raw := []byte(`[{"key":{"id":"M1"},"receipt":{"type":"read"}}]`)
	var data ReceiptUpdateData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("array unmarshal failed: %v", err)
	}
	if len(data.Receipts) != 1 || data.Receipts[0].Receipt.Type != "read" {
		t.Errorf("unexpected receipts: %+v", data.Receipts)
	}

	raw = []byte(`{"key":{"id":"M2"},"update":{"status":"delivered"}}`)
	data = ReceiptUpdateData{}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("object unmarshal failed: %v", err)
	}
	if len(data.Receipts) != 1 || data.Receipts[0].Update.Status != "delivered" {
		t.Errorf("unexpected receipts: %+v", data.Receipts)
	}
}
