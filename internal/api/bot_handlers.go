package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
)

// botHandler routes /api/bot and its sub-paths.
func (s *Server) botHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	segments := pathSegments(r, "/api/bot")
	if len(segments) == 0 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown bot endpoint"))
		return
	}

	switch segments[0] {
	case "status":
		if len(segments) == 2 {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			s.botStatusHandler(w, r, segments[1])
			return
		}
	case "toggle":
		if len(segments) == 2 {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			s.botToggleHandler(w, r, segments[1])
			return
		}
	case "toggle-by-phone":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.botToggleByPhoneHandler(w, r)
		return
	case "bulk-toggle":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.botBulkToggleHandler(w, r)
		return
	case "status-summary":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.botStatusSummaryHandler(w, r)
		return
	case "return-to-bot":
		if len(segments) == 2 {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			s.returnToBotHandler(w, r, segments[1])
			return
		}
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown bot endpoint"))
}

func (s *Server) botStatusHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, err := s.st.GetConversation(conversationID)
	if err != nil {
		slog.Error("Server.botStatusHandler: lookup failed", "id", conversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"conversation_id": conv.ID,
		"bot_enabled":     conv.BotEnabled,
		"mode":            conv.Mode,
	}))
}

func (s *Server) botToggleHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, err := s.st.GetConversation(conversationID)
	if err != nil {
		slog.Error("Server.botToggleHandler: lookup failed", "id", conversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	s.applyBotToggle(conv, !conv.BotEnabled)
	if err := s.st.SaveConversation(conv); err != nil {
		slog.Error("Server.botToggleHandler: save failed", "id", conversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update conversation"))
		return
	}
	slog.Info("Server.botToggleHandler: toggled", "id", conv.ID, "enabled", conv.BotEnabled)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"conversation_id": conv.ID,
		"bot_enabled":     conv.BotEnabled,
		"mode":            conv.Mode,
	}))
}

func (s *Server) botToggleByPhoneHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone   string `json:"phone"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	phone, err := gateway.CanonicalizePhone(req.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	conv, err := s.st.GetConversationByPhone(phone)
	if err != nil {
		slog.Error("Server.botToggleByPhoneHandler: lookup failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if conv == nil {
		conv = &models.Conversation{Phone: phone}
	}
	s.applyBotToggle(conv, req.Enabled)
	if err := s.st.SaveConversation(conv); err != nil {
		slog.Error("Server.botToggleByPhoneHandler: save failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update conversation"))
		return
	}
	slog.Info("Server.botToggleByPhoneHandler: toggled", "phone", phone, "enabled", req.Enabled)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"conversation_id": conv.ID,
		"bot_enabled":     conv.BotEnabled,
		"mode":            conv.Mode,
	}))
}

func (s *Server) botBulkToggleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	updated, err := s.st.SetBotEnabledAll(req.Enabled)
	if err != nil {
		slog.Error("Server.botBulkToggleHandler: update failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update conversations"))
		return
	}
	slog.Info("Server.botBulkToggleHandler: toggled all", "enabled", req.Enabled, "updated", updated)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"updated":     updated,
		"bot_enabled": req.Enabled,
	}))
}

func (s *Server) botStatusSummaryHandler(w http.ResponseWriter, r *http.Request) {
	byMode, err := s.st.CountConversationsByMode()
	if err != nil {
		slog.Error("Server.botStatusSummaryHandler: count failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute status summary"))
		return
	}
	enabled := byMode[models.ModeBot]
	disabled := byMode[models.ModeHuman] + byMode[models.ModePaused] + byMode[models.ModePendingHuman]
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"enabled":       enabled,
		"disabled":      disabled,
		"pending_human": byMode[models.ModePendingHuman],
		"by_mode":       byMode,
	}))
}

func (s *Server) returnToBotHandler(w http.ResponseWriter, r *http.Request, conversationID string) {
	conv, err := s.st.GetConversation(conversationID)
	if err != nil {
		slog.Error("Server.returnToBotHandler: lookup failed", "id", conversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if err := s.handover.ReturnToBot(r.Context(), conv.Phone); err != nil {
		slog.Error("Server.returnToBotHandler: return failed", "id", conversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to return conversation to bot"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation returned to bot", nil))
}

// applyBotToggle flips bot state. Enabling clears any pending handover.
func (s *Server) applyBotToggle(conv *models.Conversation, enabled bool) {
	conv.BotEnabled = enabled
	if enabled {
		conv.Mode = models.ModeBot
		conv.HandoverRequestedAt = nil
		conv.HandoverReason = ""
		conv.HandoverUpdatesSent = nil
	} else {
		conv.Mode = models.ModeHuman
	}
}

// handoverHandler routes /api/handover.
func (s *Server) handoverHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	segments := pathSegments(r, "/api/handover")
	if len(segments) != 1 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown handover endpoint"))
		return
	}

	switch segments[0] {
	case "rescue":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handoverRescueHandler(w, r)
	case "status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		stats, err := s.handover.Stats()
		if err != nil {
			slog.Error("Server.handoverHandler: stats failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute handover stats"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(stats))
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown handover endpoint"))
	}
}

// handoverRescueHandler rescues one conversation by phone, or sweeps all
// overdue handovers when no phone is given.
func (s *Server) handoverRescueHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone  string `json:"phone"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if req.Phone == "" {
		s.handover.Sweep(r.Context())
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Handover sweep completed", nil))
		return
	}

	phone, err := gateway.CanonicalizePhone(req.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.handover.Rescue(r.Context(), phone, req.Reason); err != nil {
		slog.Warn("Server.handoverRescueHandler: rescue failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation rescued", nil))
}
