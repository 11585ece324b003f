// Package rag provides a pgvector-backed knowledge base for grounding
// generated replies in business documents.
//
// The knowledge base requires PostgreSQL with the vector extension and is
// disabled when the service runs on SQLite.
package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/fluxkit/wabot/internal/models"
)

// Constants for knowledge base configuration
const (
	// EmbeddingDimensions matches text-embedding-3-small
	EmbeddingDimensions = 1536
	// DefaultSearchLimit caps similarity search results
	DefaultSearchLimit = 5
	// DefaultSimilarityThreshold filters weak matches
	DefaultSimilarityThreshold = 0.5
	// maxEmbedInputLength bounds the text sent for embedding
	maxEmbedInputLength = 8000
)

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeStore persists and searches embedded documents.
type KnowledgeStore struct {
	db       *sqlx.DB
	embedder Embedder
}

// NewKnowledgeStore wraps an existing PostgreSQL connection pool.
func NewKnowledgeStore(db *sql.DB, embedder Embedder) *KnowledgeStore {
	return &KnowledgeStore{db: sqlx.NewDb(db, "postgres"), embedder: embedder}
}

// Migrate creates the vector extension and document table.
func (k *KnowledgeStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_documents (
			id TEXT PRIMARY KEY,
			title TEXT,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, EmbeddingDimensions),
	}
	for _, stmt := range stmts {
		if _, err := k.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("knowledge migration failed: %w", err)
		}
	}
	slog.Debug("KnowledgeStore.Migrate completed")
	return nil
}

// UpsertDocument embeds the document content and stores it. An existing
// document with the same ID is replaced.
func (k *KnowledgeStore) UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	vec, err := k.embedder.Embed(ctx, truncate(doc.Content))
	if err != nil {
		return fmt.Errorf("embed document failed: %w", err)
	}

	var metadata any
	if len(doc.Metadata) > 0 {
		buf, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal document metadata failed: %w", err)
		}
		metadata = string(buf)
	}

	_, err = k.db.ExecContext(ctx,
		`INSERT INTO knowledge_documents (id, title, content, metadata, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.Title, doc.Content, metadata, pgvector.NewVector(vec), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert knowledge document failed: %w", err)
	}
	slog.Info("KnowledgeStore.UpsertDocument", "id", doc.ID, "title", doc.Title, "length", len(doc.Content))
	return nil
}

// Search embeds the query and returns documents above the similarity
// threshold, ranked by cosine similarity.
func (k *KnowledgeStore) Search(ctx context.Context, query string, limit int, threshold float64) ([]models.KnowledgeSearchResult, error) {
	if query == "" {
		return nil, models.ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	vec, err := k.embedder.Embed(ctx, truncate(query))
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	rows, err := k.db.QueryContext(ctx,
		`SELECT id, title, content, metadata, created_at, updated_at,
			1 - (embedding <=> $1::vector) AS similarity
		 FROM knowledge_documents
		 WHERE 1 - (embedding <=> $1::vector) > $2
		 ORDER BY similarity DESC
		 LIMIT $3`,
		pgvector.NewVector(vec), threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	defer rows.Close()

	var out []models.KnowledgeSearchResult
	for rows.Next() {
		var r models.KnowledgeSearchResult
		var title, metadata sql.NullString
		if err := rows.Scan(&r.Document.ID, &title, &r.Document.Content, &metadata,
			&r.Document.CreatedAt, &r.Document.UpdatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan knowledge result failed: %w", err)
		}
		r.Document.Title = title.String
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &r.Document.Metadata); err != nil {
				return nil, fmt.Errorf("decode document metadata failed: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BuildContext formats search results into a context block for the reply
// prompt. It returns an empty string when nothing relevant was found.
func BuildContext(results []models.KnowledgeSearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant business information:\n")
	for _, r := range results {
		if r.Document.Title != "" {
			fmt.Fprintf(&b, "## %s\n", r.Document.Title)
		}
		b.WriteString(r.Document.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// ListDocuments returns documents without their embeddings.
func (k *KnowledgeStore) ListDocuments(ctx context.Context, limit, offset int) ([]models.KnowledgeDocument, error) {
	rows, err := k.db.QueryContext(ctx,
		`SELECT id, title, content, metadata, created_at, updated_at
		 FROM knowledge_documents ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list knowledge documents failed: %w", err)
	}
	defer rows.Close()

	var out []models.KnowledgeDocument
	for rows.Next() {
		var d models.KnowledgeDocument
		var title, metadata sql.NullString
		if err := rows.Scan(&d.ID, &title, &d.Content, &metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge document failed: %w", err)
		}
		d.Title = title.String
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &d.Metadata); err != nil {
				return nil, fmt.Errorf("decode document metadata failed: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDocument removes a document by ID.
func (k *KnowledgeStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := k.db.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete knowledge document failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete knowledge document rows affected failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("knowledge document not found: %s", id)
	}
	return nil
}

// Stats summarizes the knowledge base.
func (k *KnowledgeStore) Stats(ctx context.Context) (*models.KnowledgeStats, error) {
	var stats models.KnowledgeStats
	var last sql.NullTime
	err := k.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(updated_at) FROM knowledge_documents`,
	).Scan(&stats.Documents, &last)
	if err != nil {
		return nil, fmt.Errorf("knowledge stats failed: %w", err)
	}
	if last.Valid {
		stats.LastUpdated = &last.Time
	}
	return &stats, nil
}

func truncate(s string) string {
	if len(s) > maxEmbedInputLength {
		return s[:maxEmbedInputLength]
	}
	return s
}
