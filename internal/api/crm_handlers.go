package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/models"
)

// contactsHandler routes /api/crm/contacts and its sub-paths.
func (s *Server) contactsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	segments := pathSegments(r, "/api/crm/contacts")

	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			limit, offset := pagination(r)
			contacts, err := s.st.ListContacts(limit, offset)
			if err != nil {
				slog.Error("Server.contactsHandler: list failed", "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch contacts"))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.Success(contacts))
		case http.MethodPost:
			s.createContactHandler(w, r)
		default:
			methodNotAllowed(w, "GET, POST")
		}
		return
	}

	if segments[0] == "search" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: q"))
			return
		}
		limit, _ := pagination(r)
		contacts, err := s.st.SearchContacts(query, limit)
		if err != nil {
			slog.Error("Server.contactsHandler: search failed", "query", query, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to search contacts"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(contacts))
		return
	}

	contactID := segments[0]
	if len(segments) == 1 {
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		s.updateContactHandler(w, r, contactID)
		return
	}
	if len(segments) == 2 {
		switch segments[1] {
		case "activities":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			limit, _ := pagination(r)
			activities, err := s.st.ListActivities(contactID, limit)
			if err != nil {
				slog.Error("Server.contactsHandler: activities failed", "contactID", contactID, "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch activities"))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.Success(activities))
			return
		case "score":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			s.adjustScoreHandler(w, r, contactID)
			return
		}
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown contact endpoint"))
}

func (s *Server) createContactHandler(w http.ResponseWriter, r *http.Request) {
	var c models.Contact
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := c.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone, err := gateway.CanonicalizePhone(c.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	c.Phone = phone
	if err := s.st.SaveContact(&c); err != nil {
		slog.Error("Server.createContactHandler: save failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save contact"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Contact saved", c))
}

func (s *Server) updateContactHandler(w http.ResponseWriter, r *http.Request, contactID string) {
	existing, err := s.st.GetContact(contactID)
	if err != nil {
		slog.Error("Server.updateContactHandler: lookup failed", "id", contactID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch contact"))
		return
	}
	if existing == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Contact not found"))
		return
	}

	var c models.Contact
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	c.ID = existing.ID
	if c.Phone == "" {
		c.Phone = existing.Phone
	} else {
		phone, err := gateway.CanonicalizePhone(c.Phone)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		c.Phone = phone
	}
	if err := s.st.SaveContact(&c); err != nil {
		slog.Error("Server.updateContactHandler: save failed", "id", contactID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save contact"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Contact updated", c))
}

func (s *Server) adjustScoreHandler(w http.ResponseWriter, r *http.Request, contactID string) {
	var adj models.ScoreAdjustment
	if err := json.NewDecoder(r.Body).Decode(&adj); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	newScore, err := s.st.AdjustLeadScore(contactID, adj.Delta)
	if err != nil {
		slog.Warn("Server.adjustScoreHandler: adjust failed", "id", contactID, "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Contact not found"))
		return
	}
	if adj.Reason != "" {
		activity := &models.Activity{ContactID: contactID, Kind: "score_adjusted", Detail: adj.Reason}
		if err := s.st.AddActivity(activity); err != nil {
			slog.Warn("Server.adjustScoreHandler: activity failed", "id", contactID, "error", err)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"lead_score": newScore}))
}

// dealsHandler routes /api/crm/deals.
func (s *Server) dealsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	segments := pathSegments(r, "/api/crm/deals")

	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			limit, offset := pagination(r)
			deals, err := s.st.ListDeals(limit, offset)
			if err != nil {
				slog.Error("Server.dealsHandler: list failed", "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch deals"))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.Success(deals))
		case http.MethodPost:
			s.saveDealHandler(w, r, "")
		default:
			methodNotAllowed(w, "GET, POST")
		}
		return
	}

	if len(segments) == 1 {
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		s.saveDealHandler(w, r, segments[0])
		return
	}
	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown deal endpoint"))
}

func (s *Server) saveDealHandler(w http.ResponseWriter, r *http.Request, dealID string) {
	if dealID != "" {
		existing, err := s.st.GetDeal(dealID)
		if err != nil {
			slog.Error("Server.saveDealHandler: lookup failed", "id", dealID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch deal"))
			return
		}
		if existing == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Deal not found"))
			return
		}
	}

	var d models.Deal
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	d.ID = dealID
	if err := d.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveDeal(&d); err != nil {
		slog.Error("Server.saveDealHandler: save failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save deal"))
		return
	}
	status := http.StatusCreated
	if dealID != "" {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, models.SuccessWithMessage("Deal saved", d))
}

// tasksHandler routes /api/crm/tasks.
func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	segments := pathSegments(r, "/api/crm/tasks")

	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			limit, offset := pagination(r)
			tasks, err := s.st.ListTasks(limit, offset)
			if err != nil {
				slog.Error("Server.tasksHandler: list failed", "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch tasks"))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.Success(tasks))
		case http.MethodPost:
			s.createTaskHandler(w, r)
		default:
			methodNotAllowed(w, "GET, POST")
		}
		return
	}

	taskID := segments[0]
	if len(segments) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		if err := s.st.DeleteTask(taskID); err != nil {
			slog.Error("Server.tasksHandler: delete failed", "id", taskID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete task"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Task deleted", nil))
		return
	}
	if len(segments) == 2 && segments[1] == "complete" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		task, err := s.st.GetTask(taskID)
		if err != nil {
			slog.Error("Server.tasksHandler: lookup failed", "id", taskID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch task"))
			return
		}
		if task == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Task not found"))
			return
		}
		if err := s.st.CompleteTask(taskID); err != nil {
			slog.Error("Server.tasksHandler: complete failed", "id", taskID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to complete task"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Task completed", nil))
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown task endpoint"))
}

func (s *Server) createTaskHandler(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := t.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveTask(&t); err != nil {
		slog.Error("Server.createTaskHandler: save failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save task"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Task saved", t))
}

// activitiesHandler handles POST /api/crm/activities.
func (s *Server) activitiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var a models.Activity
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if a.ContactID == "" || a.Kind == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: contact_id, kind"))
		return
	}
	if err := s.st.AddActivity(&a); err != nil {
		slog.Error("Server.activitiesHandler: save failed", "contactID", a.ContactID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save activity"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Activity recorded", a))
}

// leadsHandler routes /api/leads and its sub-paths.
func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	segments := pathSegments(r, "/api/leads")

	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			limit, offset := pagination(r)
			leads, err := s.st.ListLeads(limit, offset)
			if err != nil {
				slog.Error("Server.leadsHandler: list failed", "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch leads"))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.Success(leads))
		case http.MethodPost:
			s.saveLeadHandler(w, r, "")
		default:
			methodNotAllowed(w, "GET, POST")
		}
		return
	}

	if segments[0] == "analytics" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		analytics, err := s.st.LeadAnalytics()
		if err != nil {
			slog.Error("Server.leadsHandler: analytics failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute lead analytics"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(analytics))
		return
	}

	leadID := segments[0]
	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			lead, err := s.st.GetLead(leadID)
			if err != nil {
				slog.Error("Server.leadsHandler: get failed", "id", leadID, "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch lead"))
				return
			}
			if lead == nil {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.Success(lead))
		case http.MethodPut:
			s.saveLeadHandler(w, r, leadID)
		default:
			methodNotAllowed(w, "GET, PUT")
		}
		return
	}
	if len(segments) == 2 && segments[1] == "interactions" {
		switch r.Method {
		case http.MethodGet:
			interactions, err := s.st.ListLeadInteractions(leadID)
			if err != nil {
				slog.Error("Server.leadsHandler: interactions failed", "id", leadID, "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch interactions"))
				return
			}
			writeJSONResponse(w, http.StatusOK, models.Success(interactions))
		case http.MethodPost:
			var i models.LeadInteraction
			if err := json.NewDecoder(r.Body).Decode(&i); err != nil {
				writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
				return
			}
			i.LeadID = leadID
			if i.Kind == "" {
				writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: kind"))
				return
			}
			if err := s.st.AddLeadInteraction(&i); err != nil {
				slog.Error("Server.leadsHandler: interaction save failed", "id", leadID, "error", err)
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save interaction"))
				return
			}
			writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Interaction recorded", i))
		default:
			methodNotAllowed(w, "GET, POST")
		}
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown lead endpoint"))
}

func (s *Server) saveLeadHandler(w http.ResponseWriter, r *http.Request, leadID string) {
	if leadID != "" {
		existing, err := s.st.GetLead(leadID)
		if err != nil {
			slog.Error("Server.saveLeadHandler: lookup failed", "id", leadID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch lead"))
			return
		}
		if existing == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}
	}

	var l models.Lead
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	l.ID = leadID
	if err := l.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone, err := gateway.CanonicalizePhone(l.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	l.Phone = phone
	if err := s.st.SaveLead(&l); err != nil {
		slog.Error("Server.saveLeadHandler: save failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save lead"))
		return
	}
	status := http.StatusCreated
	if leadID != "" {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, models.SuccessWithMessage("Lead saved", l))
}

// customerContextHandler handles GET /api/customer-context/{phone}.
func (s *Server) customerContextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	segments := pathSegments(r, "/api/customer-context")
	if len(segments) != 1 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown customer context endpoint"))
		return
	}
	phone, err := gateway.CanonicalizePhone(segments[0])
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	var cc models.CustomerContext
	if cc.Contact, err = s.st.GetContactByPhone(phone); err != nil {
		slog.Error("Server.customerContextHandler: contact failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch customer context"))
		return
	}
	if cc.Lead, err = s.st.GetLeadByPhone(phone); err != nil {
		slog.Error("Server.customerContextHandler: lead failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch customer context"))
		return
	}
	if cc.Contact != nil {
		if cc.OpenDeals, err = s.st.ListOpenDealsByContact(cc.Contact.ID); err != nil {
			slog.Error("Server.customerContextHandler: deals failed", "phone", phone, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch customer context"))
			return
		}
		if cc.OpenTasks, err = s.st.ListOpenTasksByContact(cc.Contact.ID); err != nil {
			slog.Error("Server.customerContextHandler: tasks failed", "phone", phone, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch customer context"))
			return
		}
	}
	conv, err := s.st.GetConversationByPhone(phone)
	if err != nil {
		slog.Error("Server.customerContextHandler: conversation failed", "phone", phone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch customer context"))
		return
	}
	if conv != nil {
		if cc.RecentMessages, err = s.st.ListMessages(conv.ID, 10); err != nil {
			slog.Error("Server.customerContextHandler: messages failed", "phone", phone, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch customer context"))
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(cc))
}
