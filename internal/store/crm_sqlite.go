package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fluxkit/wabot/internal/models"
)

func (s *SQLiteStore) SaveContact(c *models.Contact) error {
	now := time.Now()
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	tags, err := encodeJSON(c.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO contacts (`+contactColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (phone) DO UPDATE SET
		   name = COALESCE(excluded.name, contacts.name),
		   email = COALESCE(excluded.email, contacts.email),
		   company = COALESCE(excluded.company, contacts.company),
		   tags = COALESCE(excluded.tags, contacts.tags),
		   lead_score = excluded.lead_score,
		   notes = COALESCE(excluded.notes, contacts.notes),
		   updated_at = excluded.updated_at`,
		c.ID, c.Phone, nilIfEmpty(c.Name), nilIfEmpty(c.Email), nilIfEmpty(c.Company),
		tags, c.LeadScore, nilIfEmpty(c.Notes), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveContact failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("save contact failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveContact", "id", c.ID, "phone", c.Phone)
	return nil
}

func (s *SQLiteStore) GetContact(id string) (*models.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact failed: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetContactByPhone(phone string) (*models.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE phone = ?`, phone)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by phone failed: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListContacts(limit, offset int) ([]models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT `+contactColumns+` FROM contacts ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts failed: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *SQLiteStore) SearchContacts(query string, limit int) ([]models.Contact, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT `+contactColumns+` FROM contacts
		 WHERE phone LIKE ? OR name LIKE ? OR email LIKE ? OR company LIKE ?
		 ORDER BY updated_at DESC LIMIT ?`,
		pattern, pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search contacts failed: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *SQLiteStore) AdjustLeadScore(contactID string, delta int) (int, error) {
	var score int
	err := s.db.QueryRow(`SELECT lead_score FROM contacts WHERE id = ?`, contactID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("contact %s not found", contactID)
	}
	if err != nil {
		return 0, fmt.Errorf("adjust lead score lookup failed: %w", err)
	}

	score += delta
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	_, err = s.db.Exec(
		`UPDATE contacts SET lead_score = ?, updated_at = ? WHERE id = ?`,
		score, time.Now(), contactID,
	)
	if err != nil {
		return 0, fmt.Errorf("adjust lead score failed: %w", err)
	}
	slog.Debug("SQLiteStore.AdjustLeadScore", "contactID", contactID, "delta", delta, "score", score)
	return score, nil
}

func (s *SQLiteStore) CountContacts() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contacts failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) SaveLead(l *models.Lead) error {
	now := time.Now()
	if l.ID == "" {
		l.ID = uuid.NewString()
		l.CreatedAt = now
	}
	if l.Status == "" {
		l.Status = models.LeadStatusNew
	}
	l.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (phone) DO UPDATE SET
		   contact_id = COALESCE(excluded.contact_id, leads.contact_id),
		   status = excluded.status,
		   quality = COALESCE(excluded.quality, leads.quality),
		   score = excluded.score,
		   source = COALESCE(excluded.source, leads.source),
		   reason = COALESCE(excluded.reason, leads.reason),
		   updated_at = excluded.updated_at`,
		l.ID, nilIfEmpty(l.ContactID), l.Phone, l.Status, nilIfEmpty(string(l.Quality)),
		l.Score, nilIfEmpty(l.Source), nilIfEmpty(l.Reason), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveLead failed", "error", err, "phone", l.Phone)
		return fmt.Errorf("save lead failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveLead", "id", l.ID, "phone", l.Phone, "status", l.Status, "score", l.Score)
	return nil
}

func (s *SQLiteStore) GetLead(id string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead failed: %w", err)
	}
	return &l, nil
}

func (s *SQLiteStore) GetLeadByPhone(phone string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE phone = ?`, phone)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead by phone failed: %w", err)
	}
	return &l, nil
}

func (s *SQLiteStore) ListLeads(limit, offset int) ([]models.Lead, error) {
	rows, err := s.db.Query(
		`SELECT `+leadColumns+` FROM leads ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list leads failed: %w", err)
	}
	defer rows.Close()

	var out []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead failed: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddLeadInteraction(i *models.LeadInteraction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO lead_interactions (id, lead_id, kind, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		i.ID, i.LeadID, i.Kind, nilIfEmpty(i.Notes), i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add lead interaction failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListLeadInteractions(leadID string) ([]models.LeadInteraction, error) {
	rows, err := s.db.Query(
		`SELECT id, lead_id, kind, notes, created_at FROM lead_interactions WHERE lead_id = ? ORDER BY created_at DESC`,
		leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list lead interactions failed: %w", err)
	}
	defer rows.Close()

	var out []models.LeadInteraction
	for rows.Next() {
		var i models.LeadInteraction
		var notes sql.NullString
		if err := rows.Scan(&i.ID, &i.LeadID, &i.Kind, &notes, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead interaction failed: %w", err)
		}
		i.Notes = notes.String
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LeadAnalytics() (*models.LeadAnalytics, error) {
	analytics := &models.LeadAnalytics{
		ByStatus:  make(map[models.LeadStatus]int),
		ByQuality: make(map[models.LeadQuality]int),
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("lead analytics status query failed: %w", err)
	}
	for rows.Next() {
		var status models.LeadStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count failed: %w", err)
		}
		analytics.ByStatus[status] = n
		analytics.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT quality, COUNT(*) FROM leads WHERE quality IS NOT NULL GROUP BY quality`)
	if err != nil {
		return nil, fmt.Errorf("lead analytics quality query failed: %w", err)
	}
	for rows.Next() {
		var quality models.LeadQuality
		var n int
		if err := rows.Scan(&quality, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan quality count failed: %w", err)
		}
		analytics.ByQuality[quality] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(score) FROM leads`).Scan(&avg); err != nil {
		return nil, fmt.Errorf("lead analytics average failed: %w", err)
	}
	analytics.AverageScore = avg.Float64

	if analytics.Total > 0 {
		analytics.ConversionRate = float64(analytics.ByStatus[models.LeadStatusConverted]) / float64(analytics.Total)
	}
	return analytics, nil
}

func (s *SQLiteStore) CountLeadsByStatus(status models.LeadStatus) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM leads WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count leads failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) LogLeadQualification(phone string, qualified bool, confidence float64, score int, quality models.LeadQuality, reason string) error {
	_, err := s.db.Exec(
		`INSERT INTO lead_qualification_log (phone, qualified, confidence, score, quality, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		phone, qualified, confidence, score, nilIfEmpty(string(quality)), nilIfEmpty(reason), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("log lead qualification failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastQualificationAt(phone string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(
		`SELECT created_at FROM lead_qualification_log WHERE phone = ? ORDER BY created_at DESC LIMIT 1`,
		phone,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last qualification lookup failed: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) SaveDeal(d *models.Deal) error {
	now := time.Now()
	if d.ID == "" {
		d.ID = uuid.NewString()
		d.CreatedAt = now
	}
	if d.Stage == "" {
		d.Stage = models.DealStageProspect
	}
	d.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO deals (`+dealColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title, value = excluded.value, stage = excluded.stage, updated_at = excluded.updated_at`,
		d.ID, d.ContactID, d.Title, d.Value, d.Stage, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save deal failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveDeal", "id", d.ID, "stage", d.Stage)
	return nil
}

func (s *SQLiteStore) GetDeal(id string) (*models.Deal, error) {
	row := s.db.QueryRow(`SELECT `+dealColumns+` FROM deals WHERE id = ?`, id)
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deal failed: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) ListDeals(limit, offset int) ([]models.Deal, error) {
	rows, err := s.db.Query(
		`SELECT `+dealColumns+` FROM deals ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list deals failed: %w", err)
	}
	defer rows.Close()
	return collectDeals(rows)
}

func (s *SQLiteStore) ListOpenDealsByContact(contactID string) ([]models.Deal, error) {
	rows, err := s.db.Query(
		`SELECT `+dealColumns+` FROM deals WHERE contact_id = ? AND stage NOT IN ('won', 'lost') ORDER BY updated_at DESC`,
		contactID,
	)
	if err != nil {
		return nil, fmt.Errorf("list open deals failed: %w", err)
	}
	defer rows.Close()
	return collectDeals(rows)
}

func (s *SQLiteStore) SaveTask(t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
		t.CreatedAt = time.Now()
	}
	if t.Priority == "" {
		t.Priority = models.TaskPriorityNormal
	}
	_, err := s.db.Exec(
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title, due_at = excluded.due_at, priority = excluded.priority,
		   done = excluded.done, completed_at = excluded.completed_at`,
		t.ID, nilIfEmpty(t.ContactID), t.Title, t.DueAt, t.Priority, t.Done, t.CompletedAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save task failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveTask", "id", t.ID, "priority", t.Priority)
	return nil
}

func (s *SQLiteStore) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task failed: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTasks(limit, offset int) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks ORDER BY done ASC, due_at IS NULL, due_at ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks failed: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *SQLiteStore) ListOpenTasksByContact(contactID string) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE contact_id = ? AND done = 0 ORDER BY due_at IS NULL, due_at ASC`,
		contactID,
	)
	if err != nil {
		return nil, fmt.Errorf("list open tasks failed: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *SQLiteStore) CompleteTask(id string) error {
	result, err := s.db.Exec(
		`UPDATE tasks SET done = 1, completed_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("complete task failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteTask(id string) error {
	result, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) AddActivity(a *models.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO activities (id, contact_id, kind, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.ContactID, a.Kind, nilIfEmpty(a.Detail), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add activity failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActivities(contactID string, limit int) ([]models.Activity, error) {
	rows, err := s.db.Query(
		`SELECT id, contact_id, kind, detail, created_at FROM activities WHERE contact_id = ? ORDER BY created_at DESC LIMIT ?`,
		contactID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activities failed: %w", err)
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		var detail sql.NullString
		if err := rows.Scan(&a.ID, &a.ContactID, &a.Kind, &detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity failed: %w", err)
		}
		a.Detail = detail.String
		out = append(out, a)
	}
	return out, rows.Err()
}
