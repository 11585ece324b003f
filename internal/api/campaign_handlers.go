package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fluxkit/wabot/internal/models"
)

// campaignsHandler routes /api/campaigns and its sub-paths.
func (s *Server) campaignsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	segments := pathSegments(r, "/api/campaigns")

	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			s.listCampaignsHandler(w, r)
		case http.MethodPost:
			s.createCampaignHandler(w, r)
		default:
			methodNotAllowed(w, "GET, POST")
		}
		return
	}

	campaignID := segments[0]
	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.getCampaignHandler(w, r, campaignID)
		return
	}
	if len(segments) == 2 && segments[1] == "cancel" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.cancelCampaignHandler(w, r, campaignID)
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown campaign endpoint"))
}

func (s *Server) createCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	c, rejected, err := s.campaigns.Create(&req)
	if err != nil {
		if errors.Is(err, models.ErrEmptyBody) || errors.Is(err, models.ErrBodyTooLong) ||
			errors.Is(err, models.ErrNoRecipients) || errors.Is(err, models.ErrTooManyRecipients) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.createCampaignHandler: create failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create campaign"))
		return
	}

	slog.Info("Server.createCampaignHandler: campaign queued", "id", c.ID, "recipients", c.Total)
	writeJSONResponse(w, http.StatusAccepted, models.AcceptedWithMessage("Campaign queued", map[string]interface{}{
		"campaign": c,
		"rejected": rejected,
	}))
}

func (s *Server) listCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	campaigns, err := s.st.ListCampaigns(limit, offset)
	if err != nil {
		slog.Error("Server.listCampaignsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch campaigns"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(campaigns))
}

func (s *Server) getCampaignHandler(w http.ResponseWriter, r *http.Request, campaignID string) {
	c, err := s.st.GetCampaign(campaignID)
	if err != nil {
		slog.Error("Server.getCampaignHandler: get failed", "id", campaignID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch campaign"))
		return
	}
	if c == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Campaign not found"))
		return
	}
	recipients, err := s.st.ListCampaignRecipients(campaignID)
	if err != nil {
		slog.Error("Server.getCampaignHandler: recipients failed", "id", campaignID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch campaign recipients"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"campaign":   c,
		"recipients": recipients,
	}))
}

func (s *Server) cancelCampaignHandler(w http.ResponseWriter, r *http.Request, campaignID string) {
	if err := s.campaigns.Cancel(campaignID); err != nil {
		slog.Warn("Server.cancelCampaignHandler: cancel failed", "id", campaignID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Campaign cancelled", nil))
}

// groupsHandler routes /api/groups and its sub-paths.
func (s *Server) groupsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	segments := pathSegments(r, "/api/groups")

	if len(segments) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		listing, err := s.groups.ListGroups(r.Context())
		if err != nil {
			slog.Error("Server.groupsHandler: list failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch groups"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(listing))
		return
	}

	switch segments[0] {
	case "schedule":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.scheduleGroupMessageHandler(w, r)
		return
	case "scheduled":
		if len(segments) == 1 {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			limit, _ := pagination(r)
			scheduled, err := s.groups.ListScheduled(limit)
			if err != nil {
				slog.Error("Server.groupsHandler: scheduled list failed", "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch scheduled messages"))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.Success(scheduled))
			return
		}
		if len(segments) == 2 {
			if r.Method != http.MethodDelete {
				methodNotAllowed(w, http.MethodDelete)
				return
			}
			if err := s.groups.CancelScheduled(segments[1]); err != nil {
				slog.Warn("Server.groupsHandler: cancel failed", "id", segments[1], "error", err)
				writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Scheduled message cancelled", nil))
			return
		}
	}

	// POST /api/groups/{jid}/send
	if len(segments) == 2 && segments[1] == "send" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.sendGroupMessageHandler(w, r, segments[0])
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown group endpoint"))
}

func (s *Server) sendGroupMessageHandler(w http.ResponseWriter, r *http.Request, groupJID string) {
	var req models.GroupSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	msg, err := s.groups.Send(r.Context(), groupJID, &req)
	if err != nil {
		if errors.Is(err, models.ErrEmptyBody) || errors.Is(err, models.ErrBodyTooLong) || errors.Is(err, models.ErrEmptyGroupJID) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.sendGroupMessageHandler: send failed", "jid", groupJID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send group message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Group message sent", msg))
}

func (s *Server) scheduleGroupMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleGroupMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	m, err := s.groups.Schedule(&req)
	if err != nil {
		if errors.Is(err, models.ErrEmptyBody) || errors.Is(err, models.ErrBodyTooLong) ||
			errors.Is(err, models.ErrEmptyGroupJID) || errors.Is(err, models.ErrInvalidSendAt) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.scheduleGroupMessageHandler: schedule failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to schedule group message"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Group message scheduled", m))
}
