package models

import "time"

// KnowledgeDocument is one entry of the RAG knowledge base.
type KnowledgeDocument struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Validate checks a KnowledgeDocument before embedding and storage.
func (d *KnowledgeDocument) Validate() error {
	if d.Content == "" {
		return ErrEmptyBody
	}
	return nil
}

// KnowledgeSearchRequest is the payload for similarity search.
type KnowledgeSearchRequest struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// Validate checks a KnowledgeSearchRequest.
func (r *KnowledgeSearchRequest) Validate() error {
	if r.Query == "" {
		return ErrEmptyQuery
	}
	return nil
}

// KnowledgeSearchResult is one ranked match from similarity search.
type KnowledgeSearchResult struct {
	Document   KnowledgeDocument `json:"document"`
	Similarity float64           `json:"similarity"`
}

// KnowledgeStats summarizes the knowledge base.
type KnowledgeStats struct {
	Documents   int        `json:"documents"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// HandoverStats summarizes conversations waiting for a human agent.
type HandoverStats struct {
	TotalWaiting      int `json:"total_waiting"`
	WaitingOver30Min  int `json:"waiting_over_30min"`
	WaitingOver60Min  int `json:"waiting_over_60min"`
	NotifiedCustomers int `json:"notified_customers"`
}

// DashboardStats is the aggregate view for the operations dashboard.
type DashboardStats struct {
	Contacts        int `json:"contacts"`
	Conversations   int `json:"conversations"`
	MessagesToday   int `json:"messages_today"`
	ActiveCampaigns int `json:"active_campaigns"`
	WaitingHandover int `json:"waiting_handover"`
	QualifiedLeads  int `json:"qualified_leads"`
}
