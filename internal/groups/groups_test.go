package groups

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// groupSender records group sends and can be told to fail.
type groupSender struct {
	fail bool
	sent []string
}

func (g *groupSender) SendText(ctx context.Context, to, body string) (string, error) {
	return "", errors.New("unsupported")
}

func (g *groupSender) SendGroupText(ctx context.Context, groupJID, body string) (string, error) {
	if g.fail {
		return "", errors.New("gateway unavailable")
	}
	g.sent = append(g.sent, groupJID)
	return fmt.Sprintf("GRP%d", len(g.sent)), nil
}

func (g *groupSender) Name() string { return "group" }

// stubLister returns a fixed live group listing.
type stubLister struct {
	groups []gateway.GroupListing
	err    error
}

func (s *stubLister) ListGroups(ctx context.Context) ([]gateway.GroupListing, error) {
	return s.groups, s.err
}

func newTestService(t *testing.T, sender *groupSender, lister GroupLister) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, sender, lister), st
}

func TestSend_LogsOutcome(t *testing.T) {
	sender := &groupSender{}
	s, st := newTestService(t, sender, nil)

	msg, err := s.Send(context.Background(), "12036302@g.us", &models.GroupSendRequest{Message: "meeting at 5"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.GatewayMessageID != "GRP1" || msg.Status != models.MessageStatusSent {
		t.Errorf("unexpected group message: %+v", msg)
	}

	log, err := st.ListGroupMessages("12036302@g.us", 10)
	if err != nil || len(log) != 1 {
		t.Fatalf("expected one logged send, got (%d, %v)", len(log), err)
	}
}

func TestSend_Invalid(t *testing.T) {
	s, _ := newTestService(t, &groupSender{}, nil)

	if _, err := s.Send(context.Background(), "", &models.GroupSendRequest{Message: "hi"}); !errors.Is(err, models.ErrEmptyGroupJID) {
		t.Errorf("expected empty JID error, got %v", err)
	}
	if _, err := s.Send(context.Background(), "12036302@g.us", &models.GroupSendRequest{}); !errors.Is(err, models.ErrEmptyBody) {
		t.Errorf("expected empty body error, got %v", err)
	}
}

func TestSend_GatewayFailureLogged(t *testing.T) {
	sender := &groupSender{fail: true}
	s, st := newTestService(t, sender, nil)

	if _, err := s.Send(context.Background(), "12036302@g.us", &models.GroupSendRequest{Message: "hi"}); err == nil {
		t.Fatal("expected send error")
	}

	log, _ := st.ListGroupMessages("12036302@g.us", 10)
	if len(log) != 1 || log[0].Status != models.MessageStatusFailed {
		t.Errorf("expected failed send logged, got %+v", log)
	}
}

func TestListGroups_LiveRefreshesCache(t *testing.T) {
	lister := &stubLister{groups: []gateway.GroupListing{
		{JID: "12036302@g.us", Name: "Support Team", Participants: 8},
	}}
	s, st := newTestService(t, &groupSender{}, lister)

	groups, err := s.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "Support Team" {
		t.Fatalf("unexpected groups: %+v", groups)
	}

	stored, _ := st.ListGroups()
	if len(stored) != 1 || stored[0].JID != "12036302@g.us" {
		t.Errorf("expected live listing cached, got %+v", stored)
	}
}

func TestListGroups_FallsBackToStored(t *testing.T) {
	lister := &stubLister{err: errors.New("not connected")}
	s, st := newTestService(t, &groupSender{}, lister)

	if err := st.SaveGroup(&models.GroupInfo{JID: "cached@g.us", Name: "Cached"}); err != nil {
		t.Fatalf("SaveGroup failed: %v", err)
	}

	groups, err := s.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].JID != "cached@g.us" {
		t.Errorf("expected stored fallback, got %+v", groups)
	}
}

func TestScheduleAndCancel(t *testing.T) {
	s, _ := newTestService(t, &groupSender{}, nil)

	m, err := s.Schedule(&models.ScheduleGroupMessageRequest{
		GroupJID: "12036302@g.us",
		Message:  "weekly update",
		SendAt:   time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if m.ID == "" || m.Status != models.ScheduledStatusScheduled {
		t.Fatalf("unexpected scheduled message: %+v", m)
	}

	listed, err := s.ListScheduled(10)
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one scheduled message, got (%d, %v)", len(listed), err)
	}

	if err := s.CancelScheduled(m.ID); err != nil {
		t.Fatalf("CancelScheduled failed: %v", err)
	}
	if err := s.CancelScheduled(m.ID); err == nil {
		t.Error("expected second cancel to fail")
	}
	if err := s.CancelScheduled("missing"); err == nil {
		t.Error("expected cancel of unknown message to fail")
	}
}

func TestSchedule_PastSendAtRejected(t *testing.T) {
	s, _ := newTestService(t, &groupSender{}, nil)

	_, err := s.Schedule(&models.ScheduleGroupMessageRequest{
		GroupJID: "12036302@g.us",
		Message:  "too late",
		SendAt:   time.Now().Add(-time.Minute),
	})
	if !errors.Is(err, models.ErrInvalidSendAt) {
		t.Errorf("expected invalid send_at error, got %v", err)
	}
}

func TestSweepDue_QueuesOnce(t *testing.T) {
	s, st := newTestService(t, &groupSender{}, nil)

	due := &models.ScheduledGroupMessage{
		GroupJID: "12036302@g.us",
		Body:     "go time",
		SendAt:   time.Now().Add(-time.Minute),
		Status:   models.ScheduledStatusScheduled,
	}
	if err := st.SaveScheduledGroupMessage(due); err != nil {
		t.Fatalf("SaveScheduledGroupMessage failed: %v", err)
	}

	s.SweepDue(context.Background())

	m, _ := st.GetScheduledGroupMessage(due.ID)
	if m.Status != models.ScheduledStatusSent {
		t.Errorf("expected status sent after sweep, got %q", m.Status)
	}

	queued, err := st.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil || len(queued) != 1 {
		t.Fatalf("expected one outbox message, got (%d, %v)", len(queued), err)
	}
	if queued[0].Kind != OutboxKindGroupMessage || queued[0].Recipient != "12036302@g.us" {
		t.Errorf("unexpected outbox message: %+v", queued[0])
	}
	if !strings.Contains(queued[0].PayloadJSON, due.ID) {
		t.Errorf("expected payload to carry scheduled ID, got %s", queued[0].PayloadJSON)
	}

	// A second sweep finds nothing due and enqueues nothing new.
	s.SweepDue(context.Background())
	if more, _ := st.ClaimDueOutboxMessages(time.Now(), 10); len(more) != 0 {
		t.Errorf("expected no further outbox messages, got %d", len(more))
	}
}

func TestOutboxHandler_SendsAndLogs(t *testing.T) {
	sender := &groupSender{}
	s, st := newTestService(t, sender, nil)

	payload := `{"scheduled_id":"sched1","group_jid":"12036302@g.us","body":"go time"}`
	err := s.OutboxHandler()(context.Background(), store.OutboxMessage{Kind: OutboxKindGroupMessage, PayloadJSON: payload})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one group send, got %d", len(sender.sent))
	}

	log, _ := st.ListGroupMessages("12036302@g.us", 10)
	if len(log) != 1 || log[0].GatewayMessageID != "GRP1" {
		t.Errorf("expected send logged, got %+v", log)
	}
}

func TestOutboxHandler_FailureMarksScheduled(t *testing.T) {
	sender := &groupSender{fail: true}
	s, st := newTestService(t, sender, nil)

	sched := &models.ScheduledGroupMessage{
		GroupJID: "12036302@g.us",
		Body:     "go time",
		SendAt:   time.Now().Add(-time.Minute),
		Status:   models.ScheduledStatusSent,
	}
	if err := st.SaveScheduledGroupMessage(sched); err != nil {
		t.Fatalf("SaveScheduledGroupMessage failed: %v", err)
	}

	payload := fmt.Sprintf(`{"scheduled_id":%q,"group_jid":"12036302@g.us","body":"go time"}`, sched.ID)
	err := s.OutboxHandler()(context.Background(), store.OutboxMessage{Kind: OutboxKindGroupMessage, PayloadJSON: payload})
	if err == nil {
		t.Fatal("expected handler error")
	}

	m, _ := st.GetScheduledGroupMessage(sched.ID)
	if m.Status != models.ScheduledStatusFailed || m.Error == "" {
		t.Errorf("expected failed status with error, got %+v", m)
	}
}

func TestOutboxHandler_RejectsOtherKinds(t *testing.T) {
	s, _ := newTestService(t, &groupSender{}, nil)
	if err := s.OutboxHandler()(context.Background(), store.OutboxMessage{Kind: "text", PayloadJSON: "{}"}); err == nil {
		t.Error("expected error for foreign outbox kind")
	}
}
