package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxkit/wabot/internal/campaign"
	"github.com/fluxkit/wabot/internal/genai"
	"github.com/fluxkit/wabot/internal/groups"
	"github.com/fluxkit/wabot/internal/handover"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// recordingSender captures gateway sends.
type recordingSender struct {
	sent      []string
	groupSent []string
	fail      bool
}

func (r *recordingSender) SendText(ctx context.Context, to, body string) (string, error) {
	if r.fail {
		return "", errors.New("gateway unavailable")
	}
	r.sent = append(r.sent, body)
	return fmt.Sprintf("OUT%d", len(r.sent)), nil
}

func (r *recordingSender) SendGroupText(ctx context.Context, groupJID, body string) (string, error) {
	if r.fail {
		return "", errors.New("gateway unavailable")
	}
	r.groupSent = append(r.groupSent, groupJID)
	return fmt.Sprintf("GRP%d", len(r.groupSent)), nil
}

func (r *recordingSender) Name() string { return "recording" }

// stubProcessor records pipeline invocations.
type stubProcessor struct {
	calls []string
	err   error
}

func (p *stubProcessor) ProcessInbound(ctx context.Context, phone, body, gatewayMessageID string) error {
	p.calls = append(p.calls, phone+"|"+body+"|"+gatewayMessageID)
	return p.err
}

// stubOpener returns a canned opening message.
type stubOpener struct {
	reply string
	err   error
}

func (o *stubOpener) GenerateReply(ctx context.Context, systemPrompt string, history []genai.Turn, userMessage string) (string, error) {
	return o.reply, o.err
}

type testEnv struct {
	server    *Server
	store     *store.SQLiteStore
	sender    *recordingSender
	processor *stubProcessor
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sender := &recordingSender{}
	processor := &stubProcessor{}
	srv := NewServer(st, sender, processor,
		campaign.NewService(st, sender),
		groups.NewService(st, sender, nil),
		handover.NewManager(st, sender),
		opts...)
	srv.syncWebhooks = true
	return &testEnv{server: srv, store: st, sender: sender, processor: processor}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestWebhook_MessagesUpsertFeedsPipeline(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"event":"messages.upsert","data":{"messages":[{"key":{"id":"WA1","fromMe":false,"remoteJid":"14155550100@s.whatsapp.net"},"message":{"conversation":"hello there"}}]}}`
	rec := env.do(t, http.MethodPost, "/webhook", payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.processor.calls) != 1 || env.processor.calls[0] != "14155550100|hello there|WA1" {
		t.Errorf("unexpected pipeline calls: %v", env.processor.calls)
	}
}

func TestWebhook_SkipsOwnAndSystemMessages(t *testing.T) {
	env := newTestEnv(t)

	cases := []string{
		// fromMe
		`{"event":"messages.upsert","data":{"messages":[{"key":{"id":"WA1","fromMe":true,"remoteJid":"14155550100@s.whatsapp.net"},"message":{"conversation":"mine"}}]}}`,
		// group chat
		`{"event":"messages.upsert","data":{"messages":[{"key":{"id":"WA2","fromMe":false,"remoteJid":"12036302@g.us"},"message":{"conversation":"group"}}]}}`,
		// protocol stub
		`{"event":"messages.upsert","data":{"messages":[{"key":{"id":"WA3","fromMe":false,"remoteJid":"14155550100@s.whatsapp.net"},"messageStubType":"REVOKE"}]}}`,
	}
	for _, payload := range cases {
		rec := env.do(t, http.MethodPost, "/webhook", payload)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 ack, got %d", rec.Code)
		}
	}
	if len(env.processor.calls) != 0 {
		t.Errorf("expected no pipeline calls, got %v", env.processor.calls)
	}
}

func TestWebhook_EchoSuppressed(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.TrackBotMessage("WA9", "14155550100"); err != nil {
		t.Fatalf("TrackBotMessage failed: %v", err)
	}

	payload := `{"event":"messages.upsert","data":{"messages":[{"key":{"id":"WA9","fromMe":false,"remoteJid":"14155550100@s.whatsapp.net"},"message":{"conversation":"echo"}}]}}`
	rec := env.do(t, http.MethodPost, "/webhook", payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(env.processor.calls) != 0 {
		t.Errorf("expected echo dropped, got %v", env.processor.calls)
	}
}

func TestWebhook_ReceiptUpdatesMessageStatus(t *testing.T) {
	env := newTestEnv(t)

	conv := &models.Conversation{Phone: "14155550100", Mode: models.ModeBot, BotEnabled: true}
	if err := env.store.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
	msg := &models.Message{
		ConversationID:   conv.ID,
		GatewayMessageID: "OUT7",
		Direction:        models.DirectionOutbound,
		Role:             models.RoleAssistant,
		Body:             "hi",
		Status:           models.MessageStatusSent,
	}
	if err := env.store.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	payload := `{"event":"message-receipt.update","data":{"key":{"id":"OUT7","remoteJid":"14155550100@s.whatsapp.net"},"receipt":{"type":"read"}}}`
	rec := env.do(t, http.MethodPost, "/webhook", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	msgs, _ := env.store.ListMessages(conv.ID, 10)
	if len(msgs) != 1 || msgs[0].Status != models.MessageStatusRead {
		t.Errorf("expected read status applied, got %+v", msgs)
	}
}

func TestWebhook_UnknownEventAcked(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/webhook", `{"event":"groups.update","data":{}}`)
	if rec.Code != http.StatusOK {
		t.Errorf("expected unknown events acked with 200, got %d", rec.Code)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/webhook", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"gateway":true`) {
		t.Errorf("expected gateway flag, got %s", rec.Body.String())
	}
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages/send", `{"phone":"+1 415 555 0100","message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.sender.sent) != 1 || env.sender.sent[0] != "hello" {
		t.Fatalf("unexpected sends: %v", env.sender.sent)
	}

	conv, _ := env.store.GetConversationByPhone("14155550100")
	if conv == nil {
		t.Fatal("expected conversation created")
	}
	msgs, _ := env.store.ListMessages(conv.ID, 10)
	if len(msgs) != 1 || msgs[0].Direction != models.DirectionOutbound || msgs[0].GatewayMessageID != "OUT1" {
		t.Errorf("unexpected stored message: %+v", msgs)
	}
	tracked, _ := env.store.WasSentByBot("OUT1")
	if !tracked {
		t.Error("expected operator send tracked for echo suppression")
	}
}

func TestSendMessage_Invalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages/send", `{"phone":"","message":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty phone, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/messages/send", `{"phone":"junk","message":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid phone, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/messages/send", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", rec.Code)
	}
}

func TestStartConversation_ProvidedOpener(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/conversations/start", `{"phone":"14155550100","name":"Dana","message":"Hi Dana!"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.sender.sent) != 1 || env.sender.sent[0] != "Hi Dana!" {
		t.Errorf("unexpected sends: %v", env.sender.sent)
	}
	contact, _ := env.store.GetContactByPhone("14155550100")
	if contact == nil || contact.Name != "Dana" {
		t.Errorf("expected contact saved, got %+v", contact)
	}
}

func TestStartConversation_GeneratedOpener(t *testing.T) {
	env := newTestEnv(t, WithOpener(&stubOpener{reply: "Hello from the team!"}))

	rec := env.do(t, http.MethodPost, "/api/conversations/start", `{"phone":"14155550100"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.sender.sent) != 1 || env.sender.sent[0] != "Hello from the team!" {
		t.Errorf("expected generated opener sent, got %v", env.sender.sent)
	}
}

func TestStartConversation_NoOpenerConfigured(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/conversations/start", `{"phone":"14155550100"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without message or generator, got %d", rec.Code)
	}
}

func TestConversations_ListGetSearch(t *testing.T) {
	env := newTestEnv(t)

	conv := &models.Conversation{Phone: "14155550100", Mode: models.ModeBot, BotEnabled: true}
	if err := env.store.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
	msg := &models.Message{ConversationID: conv.ID, Direction: models.DirectionInbound, Role: models.RoleUser, Body: "pricing please", Status: models.MessageStatusDelivered}
	if err := env.store.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/conversations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pricing please") {
		t.Errorf("get: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/conversations/search?q=pricing", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), conv.ID) {
		t.Errorf("search: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/conversations/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conversation, got %d", rec.Code)
	}
}

func TestDashboardStats(t *testing.T) {
	env := newTestEnv(t)

	if err := env.store.SaveContact(&models.Contact{Phone: "14155550100"}); err != nil {
		t.Fatalf("SaveContact failed: %v", err)
	}
	rec := env.do(t, http.MethodGet, "/api/dashboard/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"contacts":1`) {
		t.Errorf("expected contact count, got %s", rec.Body.String())
	}
}

func TestKnowledge_UnavailableOnSQLite(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/knowledge/stats", "")
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without knowledge service, got %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if !strings.Contains(resp.Message, "Postgres") {
		t.Errorf("expected explanatory message, got %q", resp.Message)
	}
}

// stubKnowledge implements KnowledgeService in memory.
type stubKnowledge struct {
	docs    map[string]models.KnowledgeDocument
	results []models.KnowledgeSearchResult
}

func (k *stubKnowledge) UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("doc%d", len(k.docs)+1)
	}
	k.docs[doc.ID] = *doc
	return nil
}

func (k *stubKnowledge) Search(ctx context.Context, query string, limit int, threshold float64) ([]models.KnowledgeSearchResult, error) {
	return k.results, nil
}

func (k *stubKnowledge) ListDocuments(ctx context.Context, limit, offset int) ([]models.KnowledgeDocument, error) {
	var out []models.KnowledgeDocument
	for _, d := range k.docs {
		out = append(out, d)
	}
	return out, nil
}

func (k *stubKnowledge) DeleteDocument(ctx context.Context, id string) error {
	if _, ok := k.docs[id]; !ok {
		return errors.New("knowledge document not found: " + id)
	}
	delete(k.docs, id)
	return nil
}

func (k *stubKnowledge) Stats(ctx context.Context) (*models.KnowledgeStats, error) {
	return &models.KnowledgeStats{Documents: len(k.docs)}, nil
}

func TestKnowledge_Endpoints(t *testing.T) {
	knowledge := &stubKnowledge{docs: make(map[string]models.KnowledgeDocument)}
	knowledge.results = []models.KnowledgeSearchResult{
		{Document: models.KnowledgeDocument{Title: "Pricing", Content: "Starter: $49"}, Similarity: 0.91},
	}
	env := newTestEnv(t, WithKnowledge(knowledge))

	rec := env.do(t, http.MethodPost, "/api/knowledge/documents", `{"title":"Pricing","content":"Starter: $49"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upsert: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/knowledge/documents", `{"title":"Empty"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("upsert: expected 400 for empty content, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/knowledge/search", `{"query":"pricing"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "0.91") {
		t.Errorf("search: unexpected response %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/knowledge/search", `{"query":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("search: expected 400 for empty query, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/knowledge/stats", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"documents":1`) {
		t.Errorf("stats: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/api/knowledge/documents/doc1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/knowledge/documents/doc1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete: expected 404 for missing doc, got %d", rec.Code)
	}
}
