// Package api provides the HTTP surface of wabot.
//
// It exposes the gateway webhook, operator messaging, campaign, group,
// CRM, bot-control, handover, and knowledge endpoints. Every endpoint
// answers with the shared JSON envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fluxkit/wabot/internal/campaign"
	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/genai"
	"github.com/fluxkit/wabot/internal/groups"
	"github.com/fluxkit/wabot/internal/handover"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/store"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	maxRequestBodyBytes    = 1 << 20
)

// InboundProcessor runs the message pipeline for one inbound user message.
type InboundProcessor interface {
	ProcessInbound(ctx context.Context, phone, body, gatewayMessageID string) error
}

// KnowledgeService is the RAG surface the knowledge endpoints sit on.
// It is nil when the store runs on SQLite.
type KnowledgeService interface {
	UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error
	Search(ctx context.Context, query string, limit int, threshold float64) ([]models.KnowledgeSearchResult, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]models.KnowledgeDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	Stats(ctx context.Context) (*models.KnowledgeStats, error)
}

// OpenerGenerator produces the first message of an operator-initiated
// conversation when the operator supplies none. *genai.Client satisfies it.
type OpenerGenerator interface {
	GenerateReply(ctx context.Context, systemPrompt string, history []genai.Turn, userMessage string) (string, error)
}

var _ OpenerGenerator = (*genai.Client)(nil)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr      string
	Knowledge KnowledgeService
	Opener    OpenerGenerator
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithKnowledge enables the knowledge endpoints.
func WithKnowledge(k KnowledgeService) Option {
	return func(o *Opts) { o.Knowledge = k }
}

// WithOpener enables generated openers on /api/conversations/start.
func WithOpener(g OpenerGenerator) Option {
	return func(o *Opts) { o.Opener = g }
}

// Server wires the HTTP handlers to the service layer.
type Server struct {
	st        store.Store
	sender    gateway.Sender
	processor InboundProcessor
	campaigns *campaign.Service
	groups    *groups.Service
	handover  *handover.Manager
	knowledge KnowledgeService
	opener    OpenerGenerator
	addr      string

	// set in tests so webhook processing finishes before assertions run
	syncWebhooks bool
}

// NewServer creates the API server.
func NewServer(st store.Store, sender gateway.Sender, processor InboundProcessor, campaigns *campaign.Service, grp *groups.Service, ho *handover.Manager, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	return &Server{
		st:        st,
		sender:    sender,
		processor: processor,
		campaigns: campaigns,
		groups:    grp,
		handover:  ho,
		knowledge: o.Knowledge,
		opener:    o.Opener,
		addr:      o.Addr,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)

	mux.HandleFunc("/api/messages/send", s.sendMessageHandler)
	mux.HandleFunc("/api/conversations/start", s.startConversationHandler)
	mux.HandleFunc("/api/conversations", s.conversationsHandler)
	mux.HandleFunc("/api/conversations/", s.conversationsHandler)
	mux.HandleFunc("/api/dashboard/stats", s.dashboardStatsHandler)

	mux.HandleFunc("/api/campaigns", s.campaignsHandler)
	mux.HandleFunc("/api/campaigns/", s.campaignsHandler)
	mux.HandleFunc("/api/groups", s.groupsHandler)
	mux.HandleFunc("/api/groups/", s.groupsHandler)

	mux.HandleFunc("/api/crm/contacts", s.contactsHandler)
	mux.HandleFunc("/api/crm/contacts/", s.contactsHandler)
	mux.HandleFunc("/api/crm/deals", s.dealsHandler)
	mux.HandleFunc("/api/crm/deals/", s.dealsHandler)
	mux.HandleFunc("/api/crm/tasks", s.tasksHandler)
	mux.HandleFunc("/api/crm/tasks/", s.tasksHandler)
	mux.HandleFunc("/api/crm/activities", s.activitiesHandler)
	mux.HandleFunc("/api/leads", s.leadsHandler)
	mux.HandleFunc("/api/leads/", s.leadsHandler)
	mux.HandleFunc("/api/customer-context/", s.customerContextHandler)

	mux.HandleFunc("/api/bot/", s.botHandler)
	mux.HandleFunc("/api/handover/", s.handoverHandler)

	mux.HandleFunc("/api/knowledge/", s.knowledgeHandler)

	return mux
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		slog.Info("Server.Run: stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// pathSegments splits the request path after the given prefix into
// non-empty segments.
func pathSegments(r *http.Request, prefix string) []string {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// pagination reads limit/offset query parameters with sane bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
}
