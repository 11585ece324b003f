package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
)

// webhookHandler receives gateway callbacks (POST /webhook). The gateway
// retries on non-200, so every recognized request is acked with 200 and
// processing failures are only recorded in the event log.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("Server.webhookHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	eventID, err := s.st.LogWebhookEvent(payload.Event, string(body))
	if err != nil {
		slog.Error("Server.webhookHandler: event log failed", "event", payload.Event, "error", err)
	}
	slog.Debug("Server.webhookHandler: event received", "event", payload.Event, "eventID", eventID)

	switch payload.Event {
	case models.EventMessagesUpsert:
		s.handleMessagesUpsert(eventID, payload.Data)
	case models.EventReceiptUpdate, models.EventMessagesUpdate:
		s.handleReceiptUpdate(eventID, payload.Data)
	case models.EventMessageSent:
		// Our own sends echoed back by the gateway carry nothing to do.
		s.finishWebhookEvent(eventID, models.WebhookStatusProcessed, "")
	default:
		slog.Info("Server.webhookHandler: unknown event type", "event", payload.Event)
		s.finishWebhookEvent(eventID, models.WebhookStatusUnknown, "")
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Event received", nil))
}

// handleMessagesUpsert extracts the inbound user message and hands it to
// the pipeline. The pipeline runs after the ack so slow LLM calls never
// stall the gateway.
func (s *Server) handleMessagesUpsert(eventID int64, data json.RawMessage) {
	var upsert models.MessagesUpsertData
	if err := json.Unmarshal(data, &upsert); err != nil {
		slog.Warn("Server.handleMessagesUpsert: invalid data section", "error", err)
		s.finishWebhookEvent(eventID, models.WebhookStatusFailed, err.Error())
		return
	}

	msg := upsert.First()
	if msg == nil || msg.Key.FromMe || msg.IsSystem() || !msg.Key.IsIndividual() {
		s.finishWebhookEvent(eventID, models.WebhookStatusProcessed, "")
		return
	}
	text := msg.Text()
	if text == "" {
		s.finishWebhookEvent(eventID, models.WebhookStatusProcessed, "")
		return
	}

	if msg.Key.ID != "" {
		if sentByBot, err := s.st.WasSentByBot(msg.Key.ID); err != nil {
			slog.Warn("Server.handleMessagesUpsert: echo check failed", "gatewayMessageID", msg.Key.ID, "error", err)
		} else if sentByBot {
			slog.Debug("Server.handleMessagesUpsert: dropping bot echo", "gatewayMessageID", msg.Key.ID)
			s.finishWebhookEvent(eventID, models.WebhookStatusProcessed, "")
			return
		}
	}

	phone := gateway.JIDToPhone(msg.Key.RemoteJID)
	process := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.processor.ProcessInbound(ctx, phone, text, msg.Key.ID); err != nil {
			slog.Error("Server.handleMessagesUpsert: pipeline failed", "phone", phone, "error", err)
			s.finishWebhookEvent(eventID, models.WebhookStatusFailed, err.Error())
			return
		}
		s.finishWebhookEvent(eventID, models.WebhookStatusProcessed, "")
	}
	if s.syncWebhooks {
		process()
	} else {
		go process()
	}
}

// handleReceiptUpdate applies delivery receipts to stored outbound messages.
func (s *Server) handleReceiptUpdate(eventID int64, data json.RawMessage) {
	var receipts models.ReceiptUpdateData
	if err := json.Unmarshal(data, &receipts); err != nil {
		slog.Warn("Server.handleReceiptUpdate: invalid data section", "error", err)
		s.finishWebhookEvent(eventID, models.WebhookStatusFailed, err.Error())
		return
	}

	var firstErr error
	for _, rec := range receipts.Receipts {
		receiptType := rec.Receipt.Type
		if receiptType == "" {
			receiptType = rec.Update.Status
		}
		status := models.MessageStatusFromReceipt(receiptType)
		if status == "" || rec.Key.ID == "" {
			continue
		}
		if err := s.st.UpdateMessageStatusByGatewayID(rec.Key.ID, status); err != nil {
			slog.Warn("Server.handleReceiptUpdate: status update failed", "gatewayMessageID", rec.Key.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		s.finishWebhookEvent(eventID, models.WebhookStatusFailed, firstErr.Error())
		return
	}
	s.finishWebhookEvent(eventID, models.WebhookStatusProcessed, "")
}

func (s *Server) finishWebhookEvent(eventID int64, status models.WebhookEventStatus, errMsg string) {
	if eventID == 0 {
		return
	}
	if err := s.st.UpdateWebhookEventStatus(eventID, status, errMsg); err != nil {
		slog.Warn("Server.finishWebhookEvent: update failed", "eventID", eventID, "error", err)
	}
}

// healthHandler provides a health check endpoint for monitoring and load
// balancing (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"gateway":   s.sender != nil,
	}
	if s.sender != nil {
		healthData["gateway_driver"] = s.sender.Name()
	}

	// A cheap count doubles as the database liveness probe.
	if count, err := s.st.CountConversations(); err != nil {
		slog.Warn("Server.healthHandler: database probe failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = fmt.Sprintf("database probe failed: %v", err)
	} else {
		healthData["conversations"] = count
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
