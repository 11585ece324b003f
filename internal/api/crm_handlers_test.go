package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fluxkit/wabot/internal/models"
)

func TestContacts_CreateSearchUpdateScore(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/crm/contacts", `{"phone":"+1 415 555 0100","name":"Dana","company":"Acme"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	contact, _ := env.store.GetContactByPhone("14155550100")
	if contact == nil || contact.Name != "Dana" {
		t.Fatalf("expected canonicalized contact, got %+v", contact)
	}

	rec = env.do(t, http.MethodGet, "/api/crm/contacts", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Dana") {
		t.Errorf("list: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/crm/contacts/search?q=acme", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), contact.ID) {
		t.Errorf("search: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/api/crm/contacts/"+contact.ID, `{"name":"Dana Lee","company":"Acme"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ := env.store.GetContact(contact.ID)
	if updated.Name != "Dana Lee" || updated.Phone != "14155550100" {
		t.Errorf("unexpected updated contact: %+v", updated)
	}

	rec = env.do(t, http.MethodPost, "/api/crm/contacts/"+contact.ID+"/score", `{"delta":150,"reason":"big order"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("score: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	// Clamped to 100.
	if !strings.Contains(rec.Body.String(), `"lead_score":100`) {
		t.Errorf("expected clamped score, got %s", rec.Body.String())
	}
	activities, _ := env.store.ListActivities(contact.ID, 10)
	if len(activities) != 1 || activities[0].Kind != "score_adjusted" {
		t.Errorf("expected score activity, got %+v", activities)
	}

	rec = env.do(t, http.MethodPut, "/api/crm/contacts/missing", `{"name":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown contact, got %d", rec.Code)
	}
}

func TestDeals_CreateAndUpdate(t *testing.T) {
	env := newTestEnv(t)

	contact := &models.Contact{Phone: "14155550100"}
	if err := env.store.SaveContact(contact); err != nil {
		t.Fatalf("SaveContact failed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/crm/deals", `{"contact_id":"`+contact.ID+`","title":"Enterprise plan","value":4900,"stage":"proposal"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	deals, _ := env.store.ListDeals(10, 0)
	if len(deals) != 1 || deals[0].Stage != models.DealStageProposal {
		t.Fatalf("unexpected deals: %+v", deals)
	}

	rec = env.do(t, http.MethodPut, "/api/crm/deals/"+deals[0].ID, `{"contact_id":"`+contact.ID+`","title":"Enterprise plan","value":5900,"stage":"won"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ := env.store.GetDeal(deals[0].ID)
	if updated.Stage != models.DealStageWon || updated.Value != 5900 {
		t.Errorf("unexpected updated deal: %+v", updated)
	}

	rec = env.do(t, http.MethodPost, "/api/crm/deals", `{"title":"Bad","stage":"imaginary"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid stage, got %d", rec.Code)
	}
}

func TestTasks_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/crm/tasks", `{"title":"Call Dana","priority":"high"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	tasks, _ := env.store.ListTasks(10, 0)
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	id := tasks[0].ID

	rec = env.do(t, http.MethodPost, "/api/crm/tasks/"+id+"/complete", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", rec.Code)
	}
	task, _ := env.store.GetTask(id)
	if !task.Done || task.CompletedAt == nil {
		t.Errorf("expected completed task, got %+v", task)
	}

	rec = env.do(t, http.MethodDelete, "/api/crm/tasks/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	task, _ = env.store.GetTask(id)
	if task != nil {
		t.Errorf("expected task removed, got %+v", task)
	}

	rec = env.do(t, http.MethodPost, "/api/crm/tasks/missing/complete", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown task, got %d", rec.Code)
	}
}

func TestActivities_Create(t *testing.T) {
	env := newTestEnv(t)

	contact := &models.Contact{Phone: "14155550100"}
	if err := env.store.SaveContact(contact); err != nil {
		t.Fatalf("SaveContact failed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/crm/activities", `{"contact_id":"`+contact.ID+`","kind":"call","detail":"intro call"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/crm/contacts/"+contact.ID+"/activities", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "intro call") {
		t.Errorf("unexpected activities response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/crm/activities", `{"kind":"call"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing contact_id, got %d", rec.Code)
	}
}

func TestLeads_Endpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/leads", `{"phone":"14155550100","status":"qualified","quality":"HIGH","score":80,"source":"whatsapp"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	lead, _ := env.store.GetLeadByPhone("14155550100")
	if lead == nil || lead.Quality != models.LeadQualityHigh {
		t.Fatalf("unexpected lead: %+v", lead)
	}

	rec = env.do(t, http.MethodGet, "/api/leads/"+lead.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/leads/"+lead.ID, `{"phone":"14155550100","status":"converted","score":90}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ := env.store.GetLead(lead.ID)
	if updated.Status != models.LeadStatusConverted {
		t.Errorf("expected converted lead, got %+v", updated)
	}

	rec = env.do(t, http.MethodPost, "/api/leads/"+lead.ID+"/interactions", `{"kind":"call","notes":"demo booked"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("interaction: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/leads/"+lead.ID+"/interactions", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "demo booked") {
		t.Errorf("interactions: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/leads/analytics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("analytics: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/leads", `{"phone":"14155550100","status":"imaginary"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", rec.Code)
	}
}

func TestCustomerContext(t *testing.T) {
	env := newTestEnv(t)

	contact := &models.Contact{Phone: "14155550100", Name: "Dana"}
	if err := env.store.SaveContact(contact); err != nil {
		t.Fatalf("SaveContact failed: %v", err)
	}
	if err := env.store.SaveLead(&models.Lead{Phone: "14155550100", Status: models.LeadStatusQualified, Score: 75}); err != nil {
		t.Fatalf("SaveLead failed: %v", err)
	}
	if err := env.store.SaveDeal(&models.Deal{ContactID: contact.ID, Title: "Enterprise plan", Stage: models.DealStageProposal}); err != nil {
		t.Fatalf("SaveDeal failed: %v", err)
	}
	conv := &models.Conversation{Phone: "14155550100", Mode: models.ModeBot, BotEnabled: true}
	if err := env.store.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
	if err := env.store.SaveMessage(&models.Message{ConversationID: conv.ID, Direction: models.DirectionInbound, Role: models.RoleUser, Body: "interested in enterprise", Status: models.MessageStatusDelivered}); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/customer-context/14155550100", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"Dana", "Enterprise plan", "interested in enterprise", `"score":75`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in context, got %s", want, body)
		}
	}
}

func TestBotControl(t *testing.T) {
	env := newTestEnv(t)

	conv := &models.Conversation{Phone: "14155550100", Mode: models.ModeBot, BotEnabled: true}
	if err := env.store.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/bot/status/"+conv.ID, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"bot_enabled":true`) {
		t.Errorf("status: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/bot/toggle/"+conv.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", rec.Code)
	}
	toggled, _ := env.store.GetConversation(conv.ID)
	if toggled.BotEnabled || toggled.Mode != models.ModeHuman {
		t.Errorf("expected bot off in human mode, got %+v", toggled)
	}

	rec = env.do(t, http.MethodPost, "/api/bot/toggle-by-phone", `{"phone":"14155550100","enabled":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle-by-phone: expected 200, got %d", rec.Code)
	}
	toggled, _ = env.store.GetConversation(conv.ID)
	if !toggled.BotEnabled || toggled.Mode != models.ModeBot {
		t.Errorf("expected bot re-enabled, got %+v", toggled)
	}

	rec = env.do(t, http.MethodPost, "/api/bot/bulk-toggle", `{"enabled":false}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"updated":1`) {
		t.Errorf("bulk-toggle: unexpected response %d %s", rec.Code, rec.Body.String())
	}
	// Bulk disable lands conversations in the same mode as a single toggle.
	toggled, _ = env.store.GetConversation(conv.ID)
	if toggled.BotEnabled || toggled.Mode != models.ModeHuman {
		t.Errorf("expected bulk disable to set human mode, got %+v", toggled)
	}

	rec = env.do(t, http.MethodGet, "/api/bot/status-summary", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status-summary: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/bot/status/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conversation, got %d", rec.Code)
	}
}

func TestHandover_RescueAndStatus(t *testing.T) {
	env := newTestEnv(t)

	requested := time.Now().Add(-40 * time.Minute)
	conv := &models.Conversation{
		Phone:               "14155550100",
		Mode:                models.ModePendingHuman,
		BotEnabled:          false,
		HandoverRequestedAt: &requested,
		HandoverReason:      "explicit request",
	}
	if err := env.store.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/handover/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_waiting":1`) {
		t.Errorf("status: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/handover/rescue", `{"phone":"14155550100","reason":"agent offline"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("rescue: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rescued, _ := env.store.GetConversation(conv.ID)
	if !rescued.BotEnabled || rescued.Mode != models.ModeBot {
		t.Errorf("expected conversation rescued, got %+v", rescued)
	}

	rec = env.do(t, http.MethodGet, "/api/handover/status", "")
	if !strings.Contains(rec.Body.String(), `"total_waiting":0`) {
		t.Errorf("expected empty queue after rescue, got %s", rec.Body.String())
	}
}

func TestReturnToBot(t *testing.T) {
	env := newTestEnv(t)

	requested := time.Now().Add(-10 * time.Minute)
	conv := &models.Conversation{
		Phone:               "14155550100",
		Mode:                models.ModePendingHuman,
		BotEnabled:          false,
		HandoverRequestedAt: &requested,
	}
	if err := env.store.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/bot/return-to-bot/"+conv.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	returned, _ := env.store.GetConversation(conv.ID)
	if !returned.BotEnabled || returned.Mode != models.ModeBot || returned.HandoverResolutionReason != "agent_returned" {
		t.Errorf("unexpected conversation after return: %+v", returned)
	}
}
