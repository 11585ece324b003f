package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
)

// openerSystemPrompt drives generated first-contact messages.
const openerSystemPrompt = "You are a friendly WhatsApp business assistant reaching out to a customer for the first time. Write one short, warm opening message introducing yourself and asking how you can help. Do not use placeholders."

// sendMessageHandler handles POST /api/messages/send. The message goes
// out through the gateway and is recorded on the conversation, but bot
// state is left untouched.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone, err := gateway.CanonicalizePhone(req.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	msg, err := s.sendAndRecord(r, phone, req.Message)
	if err != nil {
		slog.Error("Server.sendMessageHandler: send failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	slog.Info("Server.sendMessageHandler: message sent", "phone", phone, "gatewayMessageID", msg.GatewayMessageID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", msg))
}

// startConversationHandler handles POST /api/conversations/start. The
// opener is the provided message or, when absent, a generated one.
func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req models.StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone, err := gateway.CanonicalizePhone(req.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	opener := req.Message
	if opener == "" {
		if s.opener == nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: message"))
			return
		}
		generated, err := s.opener.GenerateReply(r.Context(), openerSystemPrompt, nil, "Write the opening message.")
		if err != nil {
			slog.Error("Server.startConversationHandler: opener generation failed", "phone", phone, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate opening message"))
			return
		}
		opener = generated
	}

	contact := &models.Contact{Phone: phone, Name: req.Name}
	if err := s.st.SaveContact(contact); err != nil {
		slog.Error("Server.startConversationHandler: contact save failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save contact"))
		return
	}

	msg, err := s.sendAndRecord(r, phone, opener)
	if err != nil {
		slog.Error("Server.startConversationHandler: send failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	slog.Info("Server.startConversationHandler: conversation started", "phone", phone)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Conversation started", msg))
}

// sendAndRecord delivers one operator message and persists the
// conversation and outbound message rows.
func (s *Server) sendAndRecord(r *http.Request, phone, body string) (*models.Message, error) {
	conv, err := s.st.GetConversationByPhone(phone)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if conv == nil {
		conv = &models.Conversation{Phone: phone, Mode: models.ModeBot, BotEnabled: true}
	}
	conv.LastMessageAt = &now
	if err := s.st.SaveConversation(conv); err != nil {
		return nil, err
	}

	gatewayID, sendErr := gateway.SendWithRetry(r.Context(), s.sender, phone, body)

	msg := &models.Message{
		ConversationID:   conv.ID,
		GatewayMessageID: gatewayID,
		Direction:        models.DirectionOutbound,
		Role:             models.RoleAssistant,
		Body:             body,
		Status:           models.MessageStatusSent,
	}
	if sendErr != nil {
		msg.Status = models.MessageStatusFailed
	}
	if err := s.st.SaveMessage(msg); err != nil {
		slog.Error("Server.sendAndRecord: message save failed", "phone", phone, "error", err)
	}
	if sendErr != nil {
		return nil, sendErr
	}
	if gatewayID != "" {
		if err := s.st.TrackBotMessage(gatewayID, phone); err != nil {
			slog.Warn("Server.sendAndRecord: tracking failed", "gatewayMessageID", gatewayID, "error", err)
		}
	}
	return msg, nil
}

// conversationsHandler handles the conversation read endpoints:
// GET /api/conversations, GET /api/conversations/search?q= and
// GET /api/conversations/{id}.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	segments := pathSegments(r, "/api/conversations")

	if len(segments) == 0 {
		limit, offset := pagination(r)
		convs, err := s.st.ListConversations(limit, offset)
		if err != nil {
			slog.Error("Server.conversationsHandler: list failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversations"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(convs))
		return
	}

	if segments[0] == "search" {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: q"))
			return
		}
		limit, _ := pagination(r)
		convs, err := s.st.SearchConversations(query, limit)
		if err != nil {
			slog.Error("Server.conversationsHandler: search failed", "query", query, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to search conversations"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(convs))
		return
	}

	conv, err := s.st.GetConversation(segments[0])
	if err != nil {
		slog.Error("Server.conversationsHandler: get failed", "id", segments[0], "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	limit, _ := pagination(r)
	messages, err := s.st.ListMessages(conv.ID, limit)
	if err != nil {
		slog.Error("Server.conversationsHandler: messages failed", "id", conv.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	}))
}

// dashboardStatsHandler handles GET /api/dashboard/stats.
func (s *Server) dashboardStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	var stats models.DashboardStats
	var err error
	if stats.Contacts, err = s.st.CountContacts(); err != nil {
		s.dashboardError(w, "contacts", err)
		return
	}
	if stats.Conversations, err = s.st.CountConversations(); err != nil {
		s.dashboardError(w, "conversations", err)
		return
	}
	midnight := time.Now().Truncate(24 * time.Hour)
	if stats.MessagesToday, err = s.st.CountMessagesSince(midnight); err != nil {
		s.dashboardError(w, "messages", err)
		return
	}
	if stats.ActiveCampaigns, err = s.st.CountActiveCampaigns(); err != nil {
		s.dashboardError(w, "campaigns", err)
		return
	}
	byMode, err := s.st.CountConversationsByMode()
	if err != nil {
		s.dashboardError(w, "handover", err)
		return
	}
	stats.WaitingHandover = byMode[models.ModePendingHuman]
	if stats.QualifiedLeads, err = s.st.CountLeadsByStatus(models.LeadStatusQualified); err != nil {
		s.dashboardError(w, "leads", err)
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

func (s *Server) dashboardError(w http.ResponseWriter, section string, err error) {
	slog.Error("Server.dashboardStatsHandler: aggregation failed", "section", section, "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute dashboard stats"))
}
