package leads

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
	doc   string
	err   error
	calls int
}

func (m *mockClassifier) ClassifyJSON(ctx context.Context, system, user string) (string, error) {
	m.calls++
	return m.doc, m.err
}

// recordingSender captures sent messages.
type recordingSender struct {
	sent []string
}

func (r *recordingSender) SendText(ctx context.Context, to, body string) (string, error) {
	r.sent = append(r.sent, body)
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

func history(n int) []models.Message {
	out := make([]models.Message, n)
	for i := range out {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		out[i] = models.Message{Role: role, Body: fmt.Sprintf("message %d about business automation", i)}
	}
	return out
}

const qualifiedDoc = `{
	"is_qualified_lead": true,
	"confidence": 0.85,
	"lead_quality": "HIGH",
	"lead_score": 90,
	"reason": "asked about enterprise pricing with a timeline",
	"business_indicators": ["company mentioned"],
	"buying_signals": ["timeline question"],
	"recommended_action": "discovery_call"
}`

func TestAnalyze_PreFilters(t *testing.T) {
	classifier := &mockClassifier{doc: qualifiedDoc}
	q := NewQualifier(newTestStore(t), &recordingSender{}, classifier)

	cases := []struct {
		name    string
		message string
		history []models.Message
	}{
		{"too short", "hi", history(5)},
		{"greeting", "hello there", history(5)},
		{"shallow history", "we need pricing for our 50-person team", history(2)},
	}
	for _, tc := range cases {
		analysis, err := q.Analyze(context.Background(), tc.message, tc.history)
		if err != nil {
			t.Fatalf("%s: Analyze failed: %v", tc.name, err)
		}
		if analysis.Qualified {
			t.Errorf("%s: expected pre-filter to reject %q", tc.name, tc.message)
		}
	}
	if classifier.calls != 0 {
		t.Errorf("expected no classifier calls for pre-filtered messages, got %d", classifier.calls)
	}
}

func TestAnalyze_QualifiedVerdict(t *testing.T) {
	q := NewQualifier(newTestStore(t), &recordingSender{}, &mockClassifier{doc: qualifiedDoc})

	analysis, err := q.Analyze(context.Background(), "what would enterprise pricing look like for our team?", history(5))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !analysis.Qualified || analysis.Quality != "HIGH" || analysis.Score != 90 {
		t.Errorf("unexpected analysis: %+v", analysis)
	}
}

func TestAnalyze_ThresholdsEnforced(t *testing.T) {
	cases := map[string]string{
		"low confidence": `{"is_qualified_lead": true, "confidence": 0.4, "lead_quality": "MEDIUM", "lead_score": 75, "reason": "x"}`,
		"low score":      `{"is_qualified_lead": true, "confidence": 0.9, "lead_quality": "LOW", "lead_score": 30, "reason": "x"}`,
	}
	for name, doc := range cases {
		q := NewQualifier(newTestStore(t), &recordingSender{}, &mockClassifier{doc: doc})
		analysis, err := q.Analyze(context.Background(), "asking about business pricing options", history(5))
		if err != nil {
			t.Fatalf("%s: Analyze failed: %v", name, err)
		}
		if analysis.Qualified {
			t.Errorf("%s: expected verdict suppressed", name)
		}
	}
}

func TestProcess_QualifiedLeadFlow(t *testing.T) {
	st := newTestStore(t)
	sender := &recordingSender{}
	q := NewQualifier(st, sender, &mockClassifier{doc: qualifiedDoc},
		WithSchedulingURL("https://calendly.com/acme/discovery"))

	q.Process(context.Background(), "14155550100", "we need pricing for rolling this out to our sales team", history(5))

	lead, err := st.GetLeadByPhone("14155550100")
	if err != nil || lead == nil {
		t.Fatalf("expected lead saved, got (%v, %v)", lead, err)
	}
	if lead.Status != models.LeadStatusQualified || lead.Quality != models.LeadQualityHigh {
		t.Errorf("unexpected lead: %+v", lead)
	}

	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "https://calendly.com/acme/discovery") {
		t.Fatalf("expected scheduling invitation, got %v", sender.sent)
	}

	last, err := st.LastQualificationAt("14155550100")
	if err != nil || last == nil {
		t.Errorf("expected qualification logged, got (%v, %v)", last, err)
	}

	contact, _ := st.GetContactByPhone("14155550100")
	if contact == nil {
		t.Fatal("expected contact created")
	}
	tasks, _ := st.ListOpenTasksByContact(contact.ID)
	if len(tasks) != 1 || tasks[0].Priority != models.TaskPriorityHigh {
		t.Errorf("expected high priority follow-up task, got %+v", tasks)
	}
}

func TestProcess_CooldownSkips(t *testing.T) {
	st := newTestStore(t)
	classifier := &mockClassifier{doc: qualifiedDoc}
	q := NewQualifier(st, &recordingSender{}, classifier, WithSchedulingURL("https://calendly.com/acme"))

	if err := st.LogLeadQualification("14155550100", true, 0.9, 80, models.LeadQualityHigh, "earlier"); err != nil {
		t.Fatalf("LogLeadQualification failed: %v", err)
	}

	q.Process(context.Background(), "14155550100", "we need business pricing for our company team", history(5))
	if classifier.calls != 0 {
		t.Errorf("expected cooldown to skip analysis, classifier called %d times", classifier.calls)
	}
}

func TestProcess_NotQualifiedOnlyLogs(t *testing.T) {
	st := newTestStore(t)
	sender := &recordingSender{}
	doc := `{"is_qualified_lead": false, "confidence": 0.9, "lead_quality": "NOT_QUALIFIED", "lead_score": 10, "reason": "support question"}`
	q := NewQualifier(st, sender, &mockClassifier{doc: doc}, WithSchedulingURL("https://calendly.com/acme"))

	q.Process(context.Background(), "14155550100", "how do I reset my password for the portal?", history(5))

	if len(sender.sent) != 0 {
		t.Errorf("expected no invitation for unqualified lead, got %v", sender.sent)
	}
	lead, _ := st.GetLeadByPhone("14155550100")
	if lead != nil {
		t.Errorf("expected no lead record, got %+v", lead)
	}
	last, err := st.LastQualificationAt("14155550100")
	if err != nil || last == nil {
		t.Errorf("expected qualification attempt logged, got (%v, %v)", last, err)
	}
}

func TestSchedulingMessageVariants(t *testing.T) {
	url := "https://calendly.com/acme"
	high := schedulingMessage(models.LeadQualityHigh, url)
	medium := schedulingMessage(models.LeadQualityMedium, url)
	low := schedulingMessage(models.LeadQualityLow, url)

	for name, msg := range map[string]string{"high": high, "medium": medium, "low": low} {
		if !strings.Contains(msg, url) {
			t.Errorf("%s message missing URL: %q", name, msg)
		}
	}
	if high == medium || medium == low {
		t.Error("expected quality-specific messages to differ")
	}
	if !strings.Contains(high, "discovery call") {
		t.Errorf("high message should pitch a discovery call: %q", high)
	}
}

func TestQualificationCooldownConstant(t *testing.T) {
	if QualificationCooldown != 24*time.Hour {
		t.Errorf("unexpected cooldown %v", QualificationCooldown)
	}
}
