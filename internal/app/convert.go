package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cleanops/api/internal/archive"
	"cleanops/api/internal/lifecycle"
	"cleanops/api/internal/metrics"
	"cleanops/api/internal/sequence"
	"cleanops/api/internal/store"
	"cleanops/api/internal/token"
	"cleanops/api/internal/util"
)

// ErrConversionFailed means the conversion transaction could not commit after
// retries. The document is untouched and the caller may retry.
var ErrConversionFailed = errors.New("conversion failed")

// conversionAttempts bounds retries when concurrent conversions race for the
// same job number.
const conversionAttempts = 3

// documentByRawToken is the decision-path lookup: no expiry merge, so the
// guards can distinguish an expired link from an unknown one.
func (s *Service) documentByRawToken(ctx context.Context, rawToken string) (store.Document, error) {
	if !token.Valid(rawToken) {
		return store.Document{}, domainError(404, "NOT_FOUND", "Not found", nil)
	}
	doc, err := s.store.GetDocumentByTokenHash(ctx, token.Hash(rawToken))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, domainError(404, "NOT_FOUND", "Not found", nil)
	}
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

func decisionError(kind, verb string, err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrLinkExpired):
		return domainError(410, "LINK_EXPIRED", fmt.Sprintf("This %s link has expired.", kind), nil)
	case errors.Is(err, lifecycle.ErrNotActionable):
		return domainError(409, "NOT_ACTIONABLE", fmt.Sprintf("This %s can no longer be %s.", kind, verb), nil)
	}
	return err
}

// AcceptDocument converts a shared document into a work order. Guards run in
// a fixed order (expiry before status), then every write happens in one
// transaction: signature fields, the new job, its task snapshot, and the
// audit entry all commit together or not at all. Replaying an accept on an
// already converted document returns the existing result.
func (s *Service) AcceptDocument(ctx context.Context, rawToken, signerName, signerIP string) (map[string]any, error) {
	doc, err := s.documentByRawToken(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	// Expiry comes before everything else, including the idempotency
	// short-circuit: an expired link is permanently inert, even for a
	// document that was converted while the link was still live.
	if !lifecycle.Live(doc.PublicTokenExpiresAt, time.Now()) {
		metrics.ExpiredLinkHits.Inc()
		metrics.DocumentAccepts.WithLabelValues("expired").Inc()
		return nil, decisionError(doc.Kind, "accepted", lifecycle.ErrLinkExpired)
	}

	if doc.GeneratedJobID != nil {
		metrics.DocumentAccepts.WithLabelValues("replay").Inc()
		return s.decisionPayload(ctx, doc, *doc.GeneratedJobID)
	}

	if err := lifecycle.GuardDecision(doc.Status, doc.PublicTokenExpiresAt, time.Now()); err != nil {
		if !errors.Is(err, lifecycle.ErrLinkExpired) {
			metrics.DocumentAccepts.WithLabelValues("not_actionable").Inc()
		}
		return nil, decisionError(doc.Kind, "accepted", err)
	}

	if strings.TrimSpace(signerName) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "signerName is required", nil)
	}

	services, err := s.store.ListDocumentServices(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	acceptedAt := time.Now()
	period := sequence.PeriodFor(acceptedAt)
	actor := fmt.Sprintf("%s (%s)", strings.TrimSpace(signerName), signerIP)

	var job store.Job
	var convErr error
	for attempt := 0; attempt < conversionAttempts; attempt++ {
		convErr = s.store.RunInTx(ctx, func(tx txStore) error {
			number, err := s.allocator.Next(ctx, tx, period)
			if err != nil {
				return err
			}
			job = store.Job{
				ID:             util.NewID("job"),
				JobNumber:      number.String(),
				NumberPrefix:   number.Prefix,
				Period:         number.Period,
				SequenceNumber: number.Sequence,
				Status:         "scheduled",
				Title:          doc.Title,
				Description:    doc.Description,
				AccountID:      doc.AccountID,
				FacilityID:     doc.FacilityID,
				ScheduledStart: doc.ScheduledStart,
				ScheduledEnd:   doc.ScheduledEnd,
				DocumentID:     doc.ID,
			}
			if err := tx.InsertJob(ctx, job); err != nil {
				return err
			}
			if err := tx.InsertJobTasks(ctx, snapshotTasks(job.ID, services)); err != nil {
				return err
			}
			changed, err := tx.UpdateDocumentAccepted(ctx, doc.ID, signerName, signerIP, job.ID, acceptedAt)
			if err != nil {
				return err
			}
			if !changed {
				return lifecycle.ErrNotActionable
			}
			return tx.AppendJobActivity(ctx, job.ID, "job_created", actor)
		})
		if convErr == nil {
			break
		}
		if sequence.IsConflict(convErr) {
			slog.Info("job number conflict, retrying conversion", "documentId", doc.ID, "attempt", attempt+1)
			continue
		}
		break
	}

	if convErr != nil {
		if errors.Is(convErr, lifecycle.ErrNotActionable) {
			// A concurrent decision won. If it was an accept, return its result.
			fresh, err := s.store.GetDocument(ctx, doc.ID)
			if err == nil && fresh.GeneratedJobID != nil {
				metrics.DocumentAccepts.WithLabelValues("replay").Inc()
				return s.decisionPayload(ctx, fresh, *fresh.GeneratedJobID)
			}
			metrics.DocumentAccepts.WithLabelValues("not_actionable").Inc()
			return nil, decisionError(doc.Kind, "accepted", lifecycle.ErrNotActionable)
		}
		slog.Error("conversion transaction failed", "documentId", doc.ID, "error", convErr)
		metrics.DocumentAccepts.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, convErr)
	}

	metrics.DocumentAccepts.WithLabelValues("ok").Inc()
	metrics.JobsConverted.Inc()

	if s.archive != nil {
		receipt := archive.Receipt{
			DocumentID:   doc.ID,
			DocumentKind: doc.Kind,
			JobID:        job.ID,
			JobNumber:    job.JobNumber,
			SignerName:   signerName,
			SignerIP:     signerIP,
			AcceptedAt:   acceptedAt,
			TaskCount:    len(services),
		}
		if _, err := s.archive.StoreReceipt(ctx, receipt); err != nil {
			slog.Warn("acceptance receipt upload failed", "documentId", doc.ID, "error", err)
		}
	}
	if s.search != nil {
		s.search.IndexJob(searchRecord(job))
	}

	return s.decisionPayload(ctx, doc, job.ID)
}

// RejectDocument applies the customer's rejection. Same guard order as
// acceptance; a single guarded UPDATE and no job.
func (s *Service) RejectDocument(ctx context.Context, rawToken, reason, signerIP string) (map[string]any, error) {
	doc, err := s.documentByRawToken(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	if err := lifecycle.GuardDecision(doc.Status, doc.PublicTokenExpiresAt, time.Now()); err != nil {
		if errors.Is(err, lifecycle.ErrLinkExpired) {
			metrics.ExpiredLinkHits.Inc()
		}
		return nil, decisionError(doc.Kind, "rejected", err)
	}

	changed, err := s.store.UpdateDocumentRejected(ctx, doc.ID, reason, signerIP, time.Now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, decisionError(doc.Kind, "rejected", lifecycle.ErrNotActionable)
	}
	metrics.DocumentRejects.Inc()

	return s.decisionPayload(ctx, doc, "")
}

// decisionPayload reloads the document and returns its public view, plus a
// job summary when a conversion is linked.
func (s *Service) decisionPayload(ctx context.Context, doc store.Document, jobID string) (map[string]any, error) {
	fresh, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	services, err := s.store.ListDocumentServices(ctx, fresh.ID)
	if err != nil {
		return nil, err
	}
	payload := publicDocumentPayload(fresh, services)

	if jobID == "" && fresh.GeneratedJobID != nil {
		jobID = *fresh.GeneratedJobID
	}
	if jobID != "" {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		payload["job"] = map[string]any{
			"id":        job.ID,
			"jobNumber": job.JobNumber,
			"status":    job.Status,
		}
	}
	return payload, nil
}

func snapshotTasks(jobID string, services []store.DocumentService) []store.JobTask {
	tasks := make([]store.JobTask, 0, len(services))
	for _, service := range services {
		tasks = append(tasks, store.JobTask{
			ID:          util.NewID("task"),
			JobID:       jobID,
			Name:        service.Name,
			Description: service.Description,
			Frequency:   service.Frequency,
			Quantity:    service.Quantity,
			UnitPrice:   service.UnitPrice,
			SortOrder:   service.SortOrder,
		})
	}
	return tasks
}
