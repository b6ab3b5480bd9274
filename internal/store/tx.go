package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx scopes every write of a document conversion to one transaction. The
// pipeline acquires it once per accept and passes it to each step; either the
// whole conversion commits or none of it does.
type Tx struct {
	tx *sql.Tx
}

// RunInTx begins a transaction, hands the scoped store to fn, and commits
// only when fn returns nil. Any error rolls everything back and propagates.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MaxJobSequence reads the current maximum sequence for a prefix+period
// inside the conversion transaction. See sequence.Allocator for the race
// handling around this read.
func (t *Tx) MaxJobSequence(ctx context.Context, prefix, period string) (int, error) {
	var current int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM jobs
		WHERE number_prefix=$1 AND period=$2
	`, prefix, period).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("max job sequence: %w", err)
	}
	return current, nil
}

func (t *Tx) InsertJob(ctx context.Context, item Job) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO jobs (id, job_number, number_prefix, period, sequence_number, status, title, description,
			account_id, facility_id, scheduled_start, scheduled_end, document_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, item.ID, item.JobNumber, item.NumberPrefix, item.Period, item.SequenceNumber, item.Status,
		item.Title, item.Description, item.AccountID, item.FacilityID,
		item.ScheduledStart, item.ScheduledEnd, item.DocumentID)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (t *Tx) InsertJobTasks(ctx context.Context, items []JobTask) error {
	for _, item := range items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO job_tasks (id, job_id, name, description, frequency, quantity, unit_price, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, item.JobID, item.Name, item.Description, item.Frequency, item.Quantity, item.UnitPrice, item.SortOrder); err != nil {
			return fmt.Errorf("insert job task: %w", err)
		}
	}
	return nil
}

// UpdateDocumentAccepted applies the acceptance outcome and links the
// generated job. The status guard is in the statement: if a concurrent
// accept or reject won first, zero rows match and the conversion aborts.
func (t *Tx) UpdateDocumentAccepted(ctx context.Context, documentID, signerName, signerIP, jobID string, acceptedAt time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE documents
		SET status='accepted', accepted_at=$2, signature_name=$3, signature_date=$2, signature_ip=$4,
			generated_job_id=$5, updated_at=NOW()
		WHERE id=$1 AND status IN ('sent', 'viewed')
	`, documentID, acceptedAt, signerName, signerIP, jobID)
	if err != nil {
		return false, fmt.Errorf("update document accepted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document accepted rows: %w", err)
	}
	return affected > 0, nil
}

// AppendJobActivity writes one audit record. Strictly additive; no update or
// delete statement exists for job_activities anywhere in this service.
func (t *Tx) AppendJobActivity(ctx context.Context, jobID, action, actorDescription string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO job_activities (job_id, action, actor_description)
		VALUES ($1, $2, $3)
	`, jobID, action, actorDescription)
	if err != nil {
		return fmt.Errorf("append job activity: %w", err)
	}
	return nil
}
