package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const documentColumns = `
	id, kind, status, title, description, account_id, facility_id,
	scheduled_start, scheduled_end,
	public_token_hash, public_token_expires_at,
	viewed_at, accepted_at, rejected_at,
	signature_name, signature_date, signature_ip, rejection_reason,
	generated_job_id, created_at, updated_at
`

func scanDocument(row *sql.Row) (Document, error) {
	var item Document
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.Status,
		&item.Title,
		&item.Description,
		&item.AccountID,
		&item.FacilityID,
		&item.ScheduledStart,
		&item.ScheduledEnd,
		&item.PublicTokenHash,
		&item.PublicTokenExpiresAt,
		&item.ViewedAt,
		&item.AcceptedAt,
		&item.RejectedAt,
		&item.SignatureName,
		&item.SignatureDate,
		&item.SignatureIP,
		&item.RejectionReason,
		&item.GeneratedJobID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1
	`, documentID))
}

// GetDocumentByTokenHash finds the document holding a token hash without any
// expiry filter. The caller decides whether an expired link reads as missing
// (public resolution) or as an expired-link error (accept/reject guards).
func (s *PostgresStore) GetDocumentByTokenHash(ctx context.Context, tokenHash string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE public_token_hash=$1
	`, tokenHash))
}

// SetPublicToken overwrites the document's public link in one statement and
// returns the hash it replaced, so the caller can drop any cache entry for
// the superseded token. There is no overlap window.
func (s *PostgresStore) SetPublicToken(ctx context.Context, documentID, tokenHash string, expiresAt time.Time) (string, error) {
	var previous sql.NullString
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents d
		SET public_token_hash=$2, public_token_expires_at=$3, updated_at=NOW()
		FROM (SELECT id, public_token_hash AS old_hash FROM documents WHERE id=$1 FOR UPDATE) prev
		WHERE d.id=prev.id
		RETURNING prev.old_hash
	`, documentID, tokenHash, expiresAt).Scan(&previous)
	if err != nil {
		return "", fmt.Errorf("set public token: %w", err)
	}
	return previous.String, nil
}

// MarkDocumentViewed performs the sent->viewed transition. The status guard
// lives in the statement, so concurrent first views converge: the loser
// matches zero rows and viewed_at is written exactly once.
func (s *PostgresStore) MarkDocumentViewed(ctx context.Context, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status='viewed', viewed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='sent'
	`, documentID)
	if err != nil {
		return false, fmt.Errorf("mark document viewed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark document viewed rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateDocumentRejected applies the rejection outcome. A single guarded
// UPDATE suffices: no job and no other entity is touched on this path.
func (s *PostgresStore) UpdateDocumentRejected(ctx context.Context, documentID, reason, signerIP string, rejectedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status='rejected', rejected_at=$2, rejection_reason=$3, signature_ip=$4, updated_at=NOW()
		WHERE id=$1 AND status IN ('sent', 'viewed')
	`, documentID, rejectedAt, reason, signerIP)
	if err != nil {
		return false, fmt.Errorf("update document rejected: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document rejected rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, kind, status, title, description, account_id, facility_id, scheduled_start, scheduled_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Kind, item.Status, item.Title, item.Description, item.AccountID, item.FacilityID, item.ScheduledStart, item.ScheduledEnd)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDocumentService(ctx context.Context, item DocumentService) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_services (id, document_id, name, description, frequency, quantity, unit_price, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.DocumentID, item.Name, item.Description, item.Frequency, item.Quantity, item.UnitPrice, item.SortOrder)
	if err != nil {
		return fmt.Errorf("insert document service: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentServices(ctx context.Context, documentID string) ([]DocumentService, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, name, description, frequency, quantity, unit_price, sort_order
		FROM document_services
		WHERE document_id=$1
		ORDER BY sort_order ASC, id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document services: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentService, 0)
	for rows.Next() {
		var item DocumentService
		if err := rows.Scan(
			&item.ID,
			&item.DocumentID,
			&item.Name,
			&item.Description,
			&item.Frequency,
			&item.Quantity,
			&item.UnitPrice,
			&item.SortOrder,
		); err != nil {
			return nil, fmt.Errorf("scan document service: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document services: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	var item Job
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_number, number_prefix, period, sequence_number, status, title, description,
			account_id, facility_id, scheduled_start, scheduled_end, document_id, created_at
		FROM jobs
		WHERE id=$1
	`, jobID).Scan(
		&item.ID,
		&item.JobNumber,
		&item.NumberPrefix,
		&item.Period,
		&item.SequenceNumber,
		&item.Status,
		&item.Title,
		&item.Description,
		&item.AccountID,
		&item.FacilityID,
		&item.ScheduledStart,
		&item.ScheduledEnd,
		&item.DocumentID,
		&item.CreatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListJobTasks(ctx context.Context, jobID string) ([]JobTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, name, description, frequency, quantity, unit_price, sort_order, created_at
		FROM job_tasks
		WHERE job_id=$1
		ORDER BY sort_order ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job tasks: %w", err)
	}
	defer rows.Close()

	items := make([]JobTask, 0)
	for rows.Next() {
		var item JobTask
		if err := rows.Scan(
			&item.ID,
			&item.JobID,
			&item.Name,
			&item.Description,
			&item.Frequency,
			&item.Quantity,
			&item.UnitPrice,
			&item.SortOrder,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListJobActivities(ctx context.Context, jobID string) ([]JobActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, action, actor_description, created_at
		FROM job_activities
		WHERE job_id=$1
		ORDER BY created_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job activities: %w", err)
	}
	defer rows.Close()

	items := make([]JobActivity, 0)
	for rows.Next() {
		var item JobActivity
		if err := rows.Scan(&item.ID, &item.JobID, &item.Action, &item.ActorDescription, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job activities: %w", err)
	}
	return items, nil
}

// SearchJobs is the Postgres fallback when no Meilisearch index is
// configured.
func (s *PostgresStore) SearchJobs(ctx context.Context, query string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_number, number_prefix, period, sequence_number, status, title, description,
			account_id, facility_id, scheduled_start, scheduled_end, document_id, created_at
		FROM jobs
		WHERE job_number ILIKE '%' || $1 || '%' OR title ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search jobs: %w", err)
	}
	defer rows.Close()

	items := make([]Job, 0)
	for rows.Next() {
		var item Job
		if err := rows.Scan(
			&item.ID,
			&item.JobNumber,
			&item.NumberPrefix,
			&item.Period,
			&item.SequenceNumber,
			&item.Status,
			&item.Title,
			&item.Description,
			&item.AccountID,
			&item.FacilityID,
			&item.ScheduledStart,
			&item.ScheduledEnd,
			&item.DocumentID,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return items, nil
}

// CountDocuments is used by bootstrap to decide whether seed data is needed.
func (s *PostgresStore) CountDocuments(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
