package campaign

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// flakySender fails sends to phones listed in failFor.
type flakySender struct {
	failFor map[string]int // phone -> remaining failures
	sent    []string
}

func (f *flakySender) SendText(ctx context.Context, to, body string) (string, error) {
	if n := f.failFor[to]; n > 0 {
		f.failFor[to] = n - 1
		return "", errors.New("gateway unavailable")
	}
	f.sent = append(f.sent, to)
	return fmt.Sprintf("OUT%d", len(f.sent)), nil
}

func (f *flakySender) SendGroupText(ctx context.Context, groupJID, body string) (string, error) {
	return "", errors.New("unsupported")
}

func (f *flakySender) Name() string { return "flaky" }

func newTestService(t *testing.T, sender *flakySender) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	s := NewService(st, sender)
	s.pacingMin = time.Millisecond
	s.pacingMax = 2 * time.Millisecond
	return s, st
}

func TestCreate_ValidationAndQueueing(t *testing.T) {
	s, st := newTestService(t, &flakySender{})

	req := &models.CampaignRequest{
		Message:  "spring promo",
		Contacts: []string{"+1 415 555 0100", "not-a-phone", "14155550100", "9876543210"},
	}
	c, rejected, err := s.Create(req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(c.ID, "bulk_") {
		t.Errorf("unexpected campaign ID %q", c.ID)
	}
	// Duplicate of the first number is dropped, invalid one rejected.
	if c.Total != 2 {
		t.Errorf("expected 2 recipients, got %d", c.Total)
	}
	if len(rejected) != 1 || rejected[0].Phone != "not-a-phone" {
		t.Errorf("unexpected rejections: %+v", rejected)
	}

	jobs, err := st.ClaimDueJobs(time.Now(), 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one queued dispatch job, got (%d, %v)", len(jobs), err)
	}
	if jobs[0].Kind != JobKindDispatch {
		t.Errorf("unexpected job kind %q", jobs[0].Kind)
	}
	if !strings.Contains(jobs[0].PayloadJSON, c.ID) {
		t.Errorf("expected payload to carry campaign ID, got %s", jobs[0].PayloadJSON)
	}
}

func TestCreate_Invalid(t *testing.T) {
	s, _ := newTestService(t, &flakySender{})

	if _, _, err := s.Create(&models.CampaignRequest{Message: "", Contacts: []string{"14155550100"}}); !errors.Is(err, models.ErrEmptyBody) {
		t.Errorf("expected empty body error, got %v", err)
	}
	if _, _, err := s.Create(&models.CampaignRequest{Message: "hi", Contacts: nil}); !errors.Is(err, models.ErrNoRecipients) {
		t.Errorf("expected no recipients error, got %v", err)
	}
	if _, _, err := s.Create(&models.CampaignRequest{Message: "hi", Contacts: []string{"junk", "more junk"}}); !errors.Is(err, models.ErrNoRecipients) {
		t.Errorf("expected all-invalid recipients rejected, got %v", err)
	}
}

func TestDispatch_AllSucceed(t *testing.T) {
	sender := &flakySender{}
	s, st := newTestService(t, sender)

	c, _, err := s.Create(&models.CampaignRequest{
		Message:  "hello",
		Contacts: []string{"14155550100", "14155550111"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.dispatch(context.Background(), c.ID); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	got, _ := st.GetCampaign(c.ID)
	if got.Status != models.CampaignStatusCompleted || got.Successful != 2 || got.Failed != 0 {
		t.Errorf("unexpected campaign after dispatch: %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("expected started_at and finished_at set")
	}
	if len(sender.sent) != 2 {
		t.Errorf("expected 2 sends, got %d", len(sender.sent))
	}

	// Every delivery is tracked for echo suppression.
	tracked, _ := st.WasSentByBot("OUT1")
	if !tracked {
		t.Error("expected campaign sends tracked as bot messages")
	}
}

func TestDispatch_RetriesFailuresAcrossPasses(t *testing.T) {
	sender := &flakySender{failFor: map[string]int{"14155550111": 1}}
	s, st := newTestService(t, sender)

	c, _, err := s.Create(&models.CampaignRequest{
		Message:  "hello",
		Contacts: []string{"14155550100", "14155550111"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.dispatch(context.Background(), c.ID); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	got, _ := st.GetCampaign(c.ID)
	if got.Status != models.CampaignStatusCompleted || got.Successful != 2 {
		t.Errorf("expected retry pass to recover the failure, got %+v", got)
	}

	recipients, _ := st.ListCampaignRecipients(c.ID)
	for _, r := range recipients {
		if r.Phone == "14155550111" && r.Attempts != 2 {
			t.Errorf("expected 2 attempts for flaky recipient, got %d", r.Attempts)
		}
	}
}

func TestDispatch_PermanentFailures(t *testing.T) {
	sender := &flakySender{failFor: map[string]int{"14155550111": 100}}
	s, st := newTestService(t, sender)

	c, _, err := s.Create(&models.CampaignRequest{
		Message:  "hello",
		Contacts: []string{"14155550100", "14155550111"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.dispatch(context.Background(), c.ID); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	got, _ := st.GetCampaign(c.ID)
	if got.Status != models.CampaignStatusCompleted || got.Successful != 1 || got.Failed != 1 {
		t.Errorf("unexpected campaign after partial failure: %+v", got)
	}

	recipients, _ := st.ListCampaignRecipients(c.ID)
	for _, r := range recipients {
		if r.Phone == "14155550111" {
			if r.Success || r.Attempts != models.MaxCampaignSendPasses || r.Error == "" {
				t.Errorf("unexpected failed recipient: %+v", r)
			}
		}
	}
}

func TestDispatch_Cancelled(t *testing.T) {
	sender := &flakySender{}
	s, st := newTestService(t, sender)

	c, _, err := s.Create(&models.CampaignRequest{
		Message:  "hello",
		Contacts: []string{"14155550100", "14155550111"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.Cancel(c.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := s.dispatch(context.Background(), c.ID); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("expected no sends for cancelled campaign, got %d", len(sender.sent))
	}
	got, _ := st.GetCampaign(c.ID)
	if got.Status != models.CampaignStatusCancelled {
		t.Errorf("expected cancelled status, got %q", got.Status)
	}
}

func TestCancel_FinishedCampaignRejected(t *testing.T) {
	s, st := newTestService(t, &flakySender{})

	c := &models.Campaign{ID: "bulk_20250314_092653_dead", Body: "done", Status: models.CampaignStatusCompleted}
	if err := st.CreateCampaign(c, []string{"14155550100"}); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	// CreateCampaign defaults status; force the finished state.
	c.Status = models.CampaignStatusCompleted
	if err := st.UpdateCampaign(c); err != nil {
		t.Fatalf("UpdateCampaign failed: %v", err)
	}

	if err := s.Cancel(c.ID); err == nil {
		t.Error("expected cancel of finished campaign to fail")
	}
}

func TestDispatchHandler_InvalidPayload(t *testing.T) {
	s, _ := newTestService(t, &flakySender{})
	if err := s.DispatchHandler()(context.Background(), "not json"); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestDispatch_NoPacingAfterLastSend(t *testing.T) {
	sender := &flakySender{}
	s, _ := newTestService(t, sender)
	s.pacingMin = 250 * time.Millisecond
	s.pacingMax = 300 * time.Millisecond

	c, _, err := s.Create(&models.CampaignRequest{
		Message:  "hello",
		Contacts: []string{"14155550100"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	start := time.Now()
	if err := s.dispatch(context.Background(), c.ID); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= s.pacingMin {
		t.Errorf("dispatch slept after the final recipient: took %v", elapsed)
	}
	if len(sender.sent) != 1 {
		t.Errorf("expected 1 send, got %d", len(sender.sent))
	}
}
