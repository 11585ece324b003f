package handover

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

// mockClassifier returns a fixed JSON document.
type mockClassifier struct {
	doc string
	err error
}

func (m *mockClassifier) ClassifyJSON(ctx context.Context, system, user string) (string, error) {
	return m.doc, m.err
}

// recordingSender captures sent messages.
type recordingSender struct {
	sent []sentMessage
}

type sentMessage struct {
	To   string
	Body string
}

func (r *recordingSender) SendText(ctx context.Context, to, body string) (string, error) {
	r.sent = append(r.sent, sentMessage{To: to, Body: body})
	return fmt.Sprintf("MSG%d", len(r.sent)), nil
}

func (r *recordingSender) SendGroupText(ctx context.Context, groupJID, body string) (string, error) {
	return "", errors.New("unsupported")
}

func (r *recordingSender) Name() string { return "recording" }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDetect_KeywordFallback(t *testing.T) {
	d := NewDetector(nil)

	cases := []struct {
		message string
		want    bool
	}{
		{"I want to talk to a human please", true},
		{"transfer me to your manager", true},
		{"can I get a refund for this order", true},
		{"what are your business hours?", false},
		{"tell me about pricing", false},
	}
	for _, tc := range cases {
		det := d.Detect(context.Background(), tc.message, "")
		if det.RequiresHuman != tc.want {
			t.Errorf("Detect(%q) = %v, want %v (reason: %s)", tc.message, det.RequiresHuman, tc.want, det.Reason)
		}
	}
}

func TestDetect_ClassifierDecision(t *testing.T) {
	d := NewDetector(&mockClassifier{doc: `{"requires_human": true, "reason": "billing complaint", "confidence": 0.92}`})
	det := d.Detect(context.Background(), "there is a problem with my invoice", "")
	if !det.RequiresHuman {
		t.Error("expected handover for high-confidence classification")
	}
	if det.Reason != "billing complaint" {
		t.Errorf("unexpected reason %q", det.Reason)
	}
}

func TestDetect_LowConfidenceSuppressed(t *testing.T) {
	d := NewDetector(&mockClassifier{doc: `{"requires_human": true, "reason": "maybe", "confidence": 0.4}`})
	det := d.Detect(context.Background(), "hmm not sure", "")
	if det.RequiresHuman {
		t.Error("expected low-confidence classification to be suppressed")
	}
}

func TestDetect_ClassifierErrorFallsBack(t *testing.T) {
	d := NewDetector(&mockClassifier{err: errors.New("api down")})
	det := d.Detect(context.Background(), "I need a human agent now", "")
	if !det.RequiresHuman {
		t.Error("expected keyword fallback to trigger on classifier error")
	}
}

func TestManager_Trigger(t *testing.T) {
	st := newTestStore(t)
	sender := &recordingSender{}
	m := NewManager(st, sender)

	conv := &models.Conversation{Phone: "14155550100"}
	if err := st.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	if err := m.Trigger(context.Background(), conv, "I want to talk to a human", "explicit request"); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	got, err := st.GetConversationByPhone("14155550100")
	if err != nil || got == nil {
		t.Fatalf("conversation lookup failed: %v", err)
	}
	if got.Mode != models.ModePendingHuman || got.BotEnabled {
		t.Errorf("expected pending_human with bot disabled, got %+v", got)
	}
	if got.HandoverRequestedAt == nil {
		t.Error("expected handover timestamp")
	}

	lead, err := st.GetLeadByPhone("14155550100")
	if err != nil || lead == nil {
		t.Fatalf("expected lead created, got (%v, %v)", lead, err)
	}
	if lead.Status != models.LeadStatusQualified {
		t.Errorf("expected qualified lead, got %q", lead.Status)
	}

	contact, err := st.GetContactByPhone("14155550100")
	if err != nil || contact == nil {
		t.Fatalf("expected contact created, got (%v, %v)", contact, err)
	}
	if contact.LeadScore != 25 {
		t.Errorf("expected lead score boost to 25, got %d", contact.LeadScore)
	}

	tasks, err := st.ListOpenTasksByContact(contact.ID)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected one follow-up task, got (%d, %v)", len(tasks), err)
	}
	if tasks[0].Priority != models.TaskPriorityHigh {
		t.Errorf("expected high priority task, got %q", tasks[0].Priority)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one confirmation message, got %d", len(sender.sent))
	}
	tracked, err := st.WasSentByBot("MSG1")
	if err != nil || !tracked {
		t.Errorf("expected confirmation tracked as bot-sent, got (%v, %v)", tracked, err)
	}
}

func TestManager_SweepProgressiveUpdates(t *testing.T) {
	st := newTestStore(t)
	sender := &recordingSender{}
	m := NewManager(st, sender)

	requested := time.Now().Add(-25 * time.Minute)
	conv := &models.Conversation{
		Phone:               "14155550100",
		Mode:                models.ModePendingHuman,
		BotEnabled:          false,
		HandoverRequestedAt: &requested,
	}
	if err := st.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	m.Sweep(context.Background())
	// 25 minutes waited: the 10 and 20 minute updates are due.
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(sender.sent))
	}

	// A second sweep sends nothing new.
	m.Sweep(context.Background())
	if len(sender.sent) != 2 {
		t.Errorf("expected no duplicate updates, got %d sends", len(sender.sent))
	}

	got, _ := st.GetConversationByPhone("14155550100")
	if !got.HandoverUpdatesSent["10"] || !got.HandoverUpdatesSent["20"] {
		t.Errorf("expected update tracking persisted, got %v", got.HandoverUpdatesSent)
	}
	if got.Mode != models.ModePendingHuman {
		t.Errorf("expected conversation still waiting, got %q", got.Mode)
	}
}

func TestManager_SweepRescue(t *testing.T) {
	st := newTestStore(t)
	sender := &recordingSender{}
	m := NewManager(st, sender)

	requested := time.Now().Add(-70 * time.Minute)
	conv := &models.Conversation{
		Phone:               "14155550100",
		Mode:                models.ModePendingHuman,
		BotEnabled:          false,
		HandoverRequestedAt: &requested,
	}
	if err := st.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	m.Sweep(context.Background())

	got, _ := st.GetConversationByPhone("14155550100")
	if got.Mode != models.ModeBot || !got.BotEnabled {
		t.Errorf("expected bot re-enabled after rescue, got %+v", got)
	}
	if got.HandoverResolutionReason != "timeout_rescue" {
		t.Errorf("expected timeout_rescue resolution, got %q", got.HandoverResolutionReason)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].Body, "sorry") {
		t.Errorf("expected apology message, got %+v", sender.sent)
	}
}

func TestManager_ReturnToBot(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, &recordingSender{})

	requested := time.Now().Add(-5 * time.Minute)
	conv := &models.Conversation{
		Phone:               "14155550100",
		Mode:                models.ModePendingHuman,
		HandoverRequestedAt: &requested,
	}
	if err := st.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	if err := m.ReturnToBot(context.Background(), "14155550100"); err != nil {
		t.Fatalf("ReturnToBot failed: %v", err)
	}
	got, _ := st.GetConversationByPhone("14155550100")
	if got.Mode != models.ModeBot || got.HandoverResolutionReason != "agent_returned" {
		t.Errorf("expected agent_returned resolution, got %+v", got)
	}
}

func TestManager_Stats(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, &recordingSender{})

	recent := time.Now().Add(-5 * time.Minute)
	older := time.Now().Add(-40 * time.Minute)
	for i, ts := range []*time.Time{&recent, &older} {
		conv := &models.Conversation{
			Phone:               fmt.Sprintf("1415555010%d", i),
			Mode:                models.ModePendingHuman,
			HandoverRequestedAt: ts,
		}
		if i == 1 {
			conv.HandoverUpdatesSent = map[string]bool{"10": true, "20": true, "30": true}
		}
		if err := st.SaveConversation(conv); err != nil {
			t.Fatalf("SaveConversation failed: %v", err)
		}
	}

	stats, err := m.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalWaiting != 2 || stats.WaitingOver30Min != 1 || stats.NotifiedCustomers != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
