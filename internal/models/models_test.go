package models

import (
	"testing"
	"time"
)

func TestSendMessageRequestValidate(t *testing.T) {
	req := SendMessageRequest{Phone: "14155550100", Message: "hello"}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	req = SendMessageRequest{Message: "hello"}
	if err := req.Validate(); err != ErrEmptyRecipient {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}

	req = SendMessageRequest{Phone: "14155550100"}
	if err := req.Validate(); err != ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}

	long := make([]byte, MaxMessageBodyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	req = SendMessageRequest{Phone: "14155550100", Message: string(long)}
	if err := req.Validate(); err != ErrBodyTooLong {
		t.Errorf("expected ErrBodyTooLong, got %v", err)
	}
}

func TestCampaignRequestValidate(t *testing.T) {
	req := CampaignRequest{Message: "promo", Contacts: []string{"14155550100"}}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	req = CampaignRequest{Contacts: []string{"14155550100"}}
	if err := req.Validate(); err != ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}

	req = CampaignRequest{Message: "promo"}
	if err := req.Validate(); err != ErrNoRecipients {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}

	many := make([]string, MaxCampaignRecipients+1)
	for i := range many {
		many[i] = "14155550100"
	}
	req = CampaignRequest{Message: "promo", Contacts: many}
	if err := req.Validate(); err != ErrTooManyRecipients {
		t.Errorf("expected ErrTooManyRecipients, got %v", err)
	}
}

func TestScheduleGroupMessageRequestValidate(t *testing.T) {
	req := ScheduleGroupMessageRequest{
		GroupJID: "12036304@g.us",
		Message:  "meeting at noon",
		SendAt:   time.Now().Add(time.Hour),
	}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	req.SendAt = time.Now().Add(-time.Minute)
	if err := req.Validate(); err != ErrInvalidSendAt {
		t.Errorf("expected ErrInvalidSendAt, got %v", err)
	}

	req = ScheduleGroupMessageRequest{Message: "x", SendAt: time.Now().Add(time.Hour)}
	if err := req.Validate(); err != ErrEmptyGroupJID {
		t.Errorf("expected ErrEmptyGroupJID, got %v", err)
	}
}

func TestIsValidConversationMode(t *testing.T) {
	for _, m := range []ConversationMode{ModeBot, ModePendingHuman, ModeHuman, ModePaused} {
		if !IsValidConversationMode(m) {
			t.Errorf("expected %q to be valid", m)
		}
	}
	if IsValidConversationMode("robot") {
		t.Error("expected unknown mode to be invalid")
	}
}

func TestLeadValidate(t *testing.T) {
	lead := Lead{Phone: "14155550100", Status: LeadStatusQualified}
	if err := lead.Validate(); err != nil {
		t.Errorf("expected valid lead, got %v", err)
	}

	lead.Status = "hot"
	if err := lead.Validate(); err != ErrInvalidLeadStatus {
		t.Errorf("expected ErrInvalidLeadStatus, got %v", err)
	}

	lead = Lead{Status: LeadStatusNew}
	if err := lead.Validate(); err != ErrEmptyRecipient {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	resp := Success(map[string]string{"id": "abc"})
	if resp.Status != string(APIStatusOK) {
		t.Errorf("expected status ok, got %s", resp.Status)
	}
	if resp.Message != "" {
		t.Errorf("expected no message, got %s", resp.Message)
	}

	resp = Error("boom")
	if resp.Status != string(APIStatusError) || resp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}

	resp = AcceptedWithMessage("queued", "bulk_1")
	if resp.Status != string(APIStatusAccepted) || resp.Result != "bulk_1" {
		t.Errorf("unexpected accepted response: %+v", resp)
	}
}
