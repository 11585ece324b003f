package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fluxkit/wabot/internal/models"
)

func TestCampaigns_CreateListDetailCancel(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/campaigns", `{"message":"spring promo","contacts":["14155550100","14155550111","junk"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "bulk_") || !strings.Contains(body, "junk") {
		t.Errorf("expected campaign ID and rejection list, got %s", body)
	}

	campaigns, err := env.store.ListCampaigns(10, 0)
	if err != nil || len(campaigns) != 1 {
		t.Fatalf("expected one stored campaign, got (%d, %v)", len(campaigns), err)
	}
	id := campaigns[0].ID

	rec = env.do(t, http.MethodGet, "/api/campaigns", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id) {
		t.Errorf("list: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/campaigns/"+id, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "14155550111") {
		t.Errorf("detail: expected recipient rows, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/campaigns/"+id+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", rec.Code)
	}
	c, _ := env.store.GetCampaign(id)
	if c.Status != models.CampaignStatusCancelled {
		t.Errorf("expected cancelled, got %q", c.Status)
	}

	// Cancelling a finished campaign is rejected.
	rec = env.do(t, http.MethodPost, "/api/campaigns/"+id+"/cancel", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for double cancel, got %d", rec.Code)
	}
}

func TestCampaigns_CreateInvalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/campaigns", `{"message":"","contacts":["14155550100"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty message, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/campaigns", `{"message":"hi","contacts":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for no recipients, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/campaigns/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown campaign, got %d", rec.Code)
	}
}

func TestGroups_SendAndList(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/groups/12036302@g.us/send", `{"message":"meeting at 5"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.sender.groupSent) != 1 || env.sender.groupSent[0] != "12036302@g.us" {
		t.Errorf("unexpected group sends: %v", env.sender.groupSent)
	}

	rec = env.do(t, http.MethodPost, "/api/groups/12036302@g.us/send", `{"message":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty message, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/groups", "")
	if rec.Code != http.StatusOK {
		t.Errorf("list: expected 200, got %d", rec.Code)
	}
}

func TestGroups_ScheduleLifecycle(t *testing.T) {
	env := newTestEnv(t)

	sendAt := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec := env.do(t, http.MethodPost, "/api/groups/schedule",
		`{"group_jid":"12036302@g.us","message":"weekly update","send_at":"`+sendAt+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("schedule: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	scheduled, err := env.store.ListScheduledGroupMessages(10)
	if err != nil || len(scheduled) != 1 {
		t.Fatalf("expected one scheduled message, got (%d, %v)", len(scheduled), err)
	}
	id := scheduled[0].ID

	rec = env.do(t, http.MethodGet, "/api/groups/scheduled", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id) {
		t.Errorf("scheduled list: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/api/groups/scheduled/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", rec.Code)
	}
	m, _ := env.store.GetScheduledGroupMessage(id)
	if m.Status != models.ScheduledStatusCancelled {
		t.Errorf("expected cancelled, got %q", m.Status)
	}

	rec = env.do(t, http.MethodDelete, "/api/groups/scheduled/"+id, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for double cancel, got %d", rec.Code)
	}

	// Past send times are rejected.
	rec = env.do(t, http.MethodPost, "/api/groups/schedule",
		`{"group_jid":"12036302@g.us","message":"too late","send_at":"2020-01-01T00:00:00Z"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for past send_at, got %d", rec.Code)
	}
}
