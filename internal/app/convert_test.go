package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"cleanops/api/internal/lifecycle"
	"cleanops/api/internal/store"
	"cleanops/api/internal/token"
)

func TestAcceptDocumentCreatesJobWithNextNumber(t *testing.T) {
	raw := token.New()
	doc := liveDocument(lifecycle.StatusViewed, raw)

	var insertedJob store.Job
	var insertedTasks []store.JobTask
	var activityActor string
	activityCount := 0
	accepted := false

	tx := &fakeTx{
		maxJobSequenceFn: func(_ context.Context, prefix, period string) (int, error) {
			if prefix != "WO" {
				t.Errorf("expected prefix WO, got %s", prefix)
			}
			return 1, nil
		},
		insertJobFn: func(_ context.Context, item store.Job) error {
			insertedJob = item
			return nil
		},
		insertJobTasksFn: func(_ context.Context, items []store.JobTask) error {
			insertedTasks = items
			return nil
		},
		appendJobActivityFn: func(_ context.Context, _, action, actor string) error {
			activityCount++
			if action != "job_created" {
				t.Errorf("expected job_created activity, got %s", action)
			}
			activityActor = actor
			return nil
		},
	}
	fake := &fakeStore{
		tx: tx,
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return doc, nil
		},
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			after := doc
			after.Status = lifecycle.StatusAccepted
			after.GeneratedJobID = &insertedJob.ID
			return after, nil
		},
		listDocumentServicesFn: func(context.Context, string) ([]store.DocumentService, error) {
			return []store.DocumentService{
				{ID: "svc-1", Name: "General cleaning", Quantity: 1, UnitPrice: 1500, SortOrder: 1},
				{ID: "svc-2", Name: "Windows", Quantity: 2, UnitPrice: 700, SortOrder: 2},
			}, nil
		},
		getJobFn: func(context.Context, string) (store.Job, error) {
			return insertedJob, nil
		},
	}
	tx.updateDocumentAcceptedFn = func(_ context.Context, documentID, signerName, signerIP, jobID string, _ time.Time) (bool, error) {
		accepted = true
		if signerName != "Dana Perez" || signerIP != "203.0.113.9" {
			t.Errorf("unexpected signature fields: %s %s", signerName, signerIP)
		}
		return true, nil
	}

	service := newTestService(fake)
	payload, err := service.AcceptDocument(context.Background(), raw, "Dana Perez", "203.0.113.9")
	if err != nil {
		t.Fatalf("AcceptDocument failed: %v", err)
	}

	wantNumber := "WO-" + strconv.Itoa(time.Now().Year()) + "-0002"
	if insertedJob.JobNumber != wantNumber {
		t.Errorf("expected job number %s, got %s", wantNumber, insertedJob.JobNumber)
	}
	if !accepted {
		t.Error("document was never marked accepted")
	}
	if len(insertedTasks) != 2 {
		t.Fatalf("expected 2 snapshotted tasks, got %d", len(insertedTasks))
	}
	if insertedTasks[0].Name != "General cleaning" || insertedTasks[1].Quantity != 2 {
		t.Errorf("task snapshot does not mirror service lines: %+v", insertedTasks)
	}
	if activityCount != 1 {
		t.Errorf("expected exactly one audit entry, got %d", activityCount)
	}
	if activityActor != "Dana Perez (203.0.113.9)" {
		t.Errorf("unexpected audit actor %q", activityActor)
	}

	job, ok := payload["job"].(map[string]any)
	if !ok {
		t.Fatalf("expected a job summary in the response, got %v", payload["job"])
	}
	if job["jobNumber"] != wantNumber {
		t.Errorf("response job number mismatch: %v", job["jobNumber"])
	}
}

func TestAcceptDocumentExpiredLinkBeatsStatusCheck(t *testing.T) {
	raw := token.New()
	// Still 'sent' and therefore actionable, but the link expired: expiry
	// must win and report the kind-specific message.
	doc := expireDocument(liveDocument(lifecycle.StatusSent, raw))
	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return doc, nil
		},
		runInTxFn: func(context.Context, func(tx txStore) error) error {
			t.Fatal("conversion must not start on an expired link")
			return nil
		},
	}
	service := newTestService(fake)

	_, err := service.AcceptDocument(context.Background(), raw, "Dana Perez", "203.0.113.9")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	if domainErr.Status != 410 || domainErr.Code != "LINK_EXPIRED" {
		t.Errorf("expected 410 LINK_EXPIRED, got %d %s", domainErr.Status, domainErr.Code)
	}
	if domainErr.Message != "This quotation link has expired." {
		t.Errorf("unexpected message %q", domainErr.Message)
	}
}

func TestAcceptDocumentNotActionableOnDraft(t *testing.T) {
	raw := token.New()
	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return liveDocument(lifecycle.StatusDraft, raw), nil
		},
	}
	service := newTestService(fake)

	_, err := service.AcceptDocument(context.Background(), raw, "Dana Perez", "203.0.113.9")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	if domainErr.Status != 409 || domainErr.Code != "NOT_ACTIONABLE" {
		t.Errorf("expected 409 NOT_ACTIONABLE, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestAcceptDocumentUnknownTokenIs404(t *testing.T) {
	service := newTestService(&fakeStore{})

	_, err := service.AcceptDocument(context.Background(), token.New(), "Dana Perez", "203.0.113.9")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for an unknown token, got %v", err)
	}
}

func TestAcceptDocumentRequiresSignerName(t *testing.T) {
	raw := token.New()
	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return liveDocument(lifecycle.StatusSent, raw), nil
		},
	}
	service := newTestService(fake)

	_, err := service.AcceptDocument(context.Background(), raw, "   ", "203.0.113.9")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestAcceptDocumentReplayReturnsExistingJob(t *testing.T) {
	raw := token.New()
	jobID := "job_existing"
	doc := liveDocument(lifecycle.StatusAccepted, raw)
	doc.GeneratedJobID = &jobID

	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return doc, nil
		},
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return doc, nil
		},
		getJobFn: func(_ context.Context, id string) (store.Job, error) {
			return store.Job{ID: id, JobNumber: "WO-2026-0007", Status: "scheduled"}, nil
		},
		runInTxFn: func(context.Context, func(tx txStore) error) error {
			t.Fatal("replayed accept must not open a transaction")
			return nil
		},
	}
	service := newTestService(fake)

	payload, err := service.AcceptDocument(context.Background(), raw, "Dana Perez", "203.0.113.9")
	if err != nil {
		t.Fatalf("AcceptDocument failed: %v", err)
	}
	job, ok := payload["job"].(map[string]any)
	if !ok || job["jobNumber"] != "WO-2026-0007" {
		t.Errorf("expected the existing job in the response, got %v", payload["job"])
	}
}

func TestAcceptDocumentExpiredLinkBlocksReplay(t *testing.T) {
	raw := token.New()
	jobID := "job_existing"
	// Converted while the link was live, but the link has since expired:
	// the conversion result is no longer reachable through this token.
	doc := expireDocument(liveDocument(lifecycle.StatusAccepted, raw))
	doc.GeneratedJobID = &jobID

	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return doc, nil
		},
		getJobFn: func(context.Context, string) (store.Job, error) {
			t.Fatal("expired token must not load the converted job")
			return store.Job{}, nil
		},
	}
	service := newTestService(fake)

	payload, err := service.AcceptDocument(context.Background(), raw, "Dana Perez", "203.0.113.9")
	if payload != nil {
		t.Errorf("expired token must not return a payload, got %v", payload)
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	if domainErr.Status != 410 || domainErr.Code != "LINK_EXPIRED" {
		t.Errorf("expected 410 LINK_EXPIRED, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestAcceptDocumentRetriesOnNumberConflict(t *testing.T) {
	raw := token.New()
	doc := liveDocument(lifecycle.StatusViewed, raw)
	jobID := ""
	attempts := 0

	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return doc, nil
		},
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			after := doc
			after.Status = lifecycle.StatusAccepted
			after.GeneratedJobID = &jobID
			return after, nil
		},
		getJobFn: func(_ context.Context, id string) (store.Job, error) {
			return store.Job{ID: id}, nil
		},
		runInTxFn: func(ctx context.Context, fn func(tx txStore) error) error {
			attempts++
			if attempts == 1 {
				return fmt.Errorf("insert job: %w", &pgconn.PgError{Code: "23505"})
			}
			return fn(&fakeTx{insertJobFn: func(_ context.Context, item store.Job) error {
				jobID = item.ID
				return nil
			}})
		},
	}
	service := newTestService(fake)

	if _, err := service.AcceptDocument(context.Background(), raw, "Dana Perez", "203.0.113.9"); err != nil {
		t.Fatalf("AcceptDocument failed after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestAcceptDocumentRollbackYieldsConversionFailed(t *testing.T) {
	raw := token.New()
	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return liveDocument(lifecycle.StatusViewed, raw), nil
		},
		runInTxFn: func(context.Context, func(tx txStore) error) error {
			return errors.New("copy tasks: disk full")
		},
	}
	service := newTestService(fake)

	_, err := service.AcceptDocument(context.Background(), raw, "Dana Perez", "203.0.113.9")
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("expected ErrConversionFailed, got %v", err)
	}
}

func TestRejectDocumentSetsReason(t *testing.T) {
	raw := token.New()
	doc := liveDocument(lifecycle.StatusSent, raw)
	var gotReason, gotIP string

	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return doc, nil
		},
		updateDocumentRejectedFn: func(_ context.Context, _, reason, signerIP string, _ time.Time) (bool, error) {
			gotReason = reason
			gotIP = signerIP
			return true, nil
		},
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			after := doc
			after.Status = lifecycle.StatusRejected
			return after, nil
		},
	}
	service := newTestService(fake)

	payload, err := service.RejectDocument(context.Background(), raw, "Too expensive", "203.0.113.9")
	if err != nil {
		t.Fatalf("RejectDocument failed: %v", err)
	}
	if gotReason != "Too expensive" || gotIP != "203.0.113.9" {
		t.Errorf("rejection fields not forwarded: %q %q", gotReason, gotIP)
	}
	if payload["status"] != "rejected" {
		t.Errorf("expected rejected status in payload, got %v", payload["status"])
	}
	if _, hasJob := payload["job"]; hasJob {
		t.Error("rejection must not produce a job")
	}
}

func TestRejectDocumentExpiredLinkCheckedFirst(t *testing.T) {
	raw := token.New()
	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return expireDocument(liveDocument(lifecycle.StatusSent, raw)), nil
		},
		updateDocumentRejectedFn: func(context.Context, string, string, string, time.Time) (bool, error) {
			t.Fatal("rejection write must not run on an expired link")
			return false, nil
		},
	}
	service := newTestService(fake)

	_, err := service.RejectDocument(context.Background(), raw, "n/a", "203.0.113.9")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "LINK_EXPIRED" {
		t.Fatalf("expected LINK_EXPIRED, got %v", err)
	}
}

func TestRejectDocumentTerminalStatusNotActionable(t *testing.T) {
	raw := token.New()
	fake := &fakeStore{
		getDocumentByTokenHashFn: func(context.Context, string) (store.Document, error) {
			return liveDocument(lifecycle.StatusRejected, raw), nil
		},
	}
	service := newTestService(fake)

	_, err := service.RejectDocument(context.Background(), raw, "again", "203.0.113.9")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_ACTIONABLE" {
		t.Fatalf("expected NOT_ACTIONABLE, got %v", err)
	}
	if domainErr.Message != "This quotation can no longer be rejected." {
		t.Errorf("unexpected message %q", domainErr.Message)
	}
}
