package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"cleanops/api/internal/archive"
	"cleanops/api/internal/config"
	"cleanops/api/internal/lifecycle"
	"cleanops/api/internal/metrics"
	"cleanops/api/internal/search"
	"cleanops/api/internal/sequence"
	"cleanops/api/internal/store"
	"cleanops/api/internal/token"
	"cleanops/api/internal/tokencache"
)

// txStore is the write surface available inside one conversion transaction.
type txStore interface {
	MaxJobSequence(ctx context.Context, prefix, period string) (int, error)
	InsertJob(ctx context.Context, item store.Job) error
	InsertJobTasks(ctx context.Context, items []store.JobTask) error
	UpdateDocumentAccepted(ctx context.Context, documentID, signerName, signerIP, jobID string, acceptedAt time.Time) (bool, error)
	AppendJobActivity(ctx context.Context, jobID, action, actorDescription string) error
}

type dataStore interface {
	GetDocument(context.Context, string) (store.Document, error)
	GetDocumentByTokenHash(context.Context, string) (store.Document, error)
	SetPublicToken(ctx context.Context, documentID, tokenHash string, expiresAt time.Time) (string, error)
	MarkDocumentViewed(context.Context, string) (bool, error)
	UpdateDocumentRejected(ctx context.Context, documentID, reason, signerIP string, rejectedAt time.Time) (bool, error)
	InsertDocument(context.Context, store.Document) error
	InsertDocumentService(context.Context, store.DocumentService) error
	ListDocumentServices(context.Context, string) ([]store.DocumentService, error)
	GetJob(context.Context, string) (store.Job, error)
	ListJobTasks(context.Context, string) ([]store.JobTask, error)
	ListJobActivities(context.Context, string) ([]store.JobActivity, error)
	SearchJobs(ctx context.Context, query string, limit int) ([]store.Job, error)
	CountDocuments(context.Context) (int, error)
	RunInTx(ctx context.Context, fn func(tx txStore) error) error
	Ping(context.Context) error
}

// pgStore adapts the concrete Postgres store to dataStore; the only
// impedance is the transaction callback's parameter type.
type pgStore struct {
	*store.PostgresStore
}

func (p pgStore) RunInTx(ctx context.Context, fn func(tx txStore) error) error {
	return p.PostgresStore.RunInTx(ctx, func(tx *store.Tx) error {
		return fn(tx)
	})
}

type Service struct {
	cfg       config.Config
	store     dataStore
	cache     *tokencache.Cache
	archive   *archive.Service
	search    *search.Service
	allocator sequence.Allocator
}

// New wires the service. cache, archiveService, and searchService may each be
// nil when the backing system is not configured; every use degrades to the
// Postgres-only path.
func New(cfg config.Config, dataStore *store.PostgresStore, cache *tokencache.Cache, archiveService *archive.Service, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     pgStore{dataStore},
		cache:     cache,
		archive:   archiveService,
		search:    searchService,
		allocator: sequence.Allocator{Prefix: cfg.JobNumberPrefix},
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CacheConfigured reports whether the Redis fast path is wired.
func (s *Service) CacheConfigured() bool {
	return s.cache != nil
}

func (s *Service) CachePing(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

// Bootstrap seeds a demo quotation on an empty database and issues its public
// link, so a fresh instance has a complete flow to exercise.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountDocuments(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	start := time.Now().AddDate(0, 0, 14)
	end := start.AddDate(1, 0, 0)
	quotation := store.Document{
		ID:             "qt-1001",
		Kind:           "quotation",
		Status:         lifecycle.StatusSent,
		Title:          "Nightly janitorial — Riverside Medical Plaza",
		Description:    "Five nights per week, common areas and exam rooms.",
		AccountID:      "acct-riverside",
		FacilityID:     "fac-rmp-01",
		ScheduledStart: &start,
		ScheduledEnd:   &end,
	}
	if err := s.store.InsertDocument(ctx, quotation); err != nil {
		return err
	}

	seeds := []store.DocumentService{
		{ID: "svc-1001-1", DocumentID: quotation.ID, Name: "General cleaning", Description: "Vacuum, mop, trash, touch points", Frequency: "nightly", Quantity: 1, UnitPrice: 185000, SortOrder: 1},
		{ID: "svc-1001-2", DocumentID: quotation.ID, Name: "Restroom sanitation", Frequency: "nightly", Quantity: 6, UnitPrice: 22000, SortOrder: 2},
		{ID: "svc-1001-3", DocumentID: quotation.ID, Name: "Floor machine scrub", Frequency: "monthly", Quantity: 1, UnitPrice: 64000, SortOrder: 3},
	}
	for _, seed := range seeds {
		if err := s.store.InsertDocumentService(ctx, seed); err != nil {
			return err
		}
	}

	if err := s.store.InsertDocument(ctx, store.Document{
		ID:          "ct-2001",
		Kind:        "contract",
		Status:      lifecycle.StatusDraft,
		Title:       "Annual maintenance contract — Harbor Logistics",
		Description: "Draft pending internal review; no public link yet.",
		AccountID:   "acct-harbor",
		FacilityID:  "fac-hl-03",
	}); err != nil {
		return err
	}

	issued, err := s.IssuePublicLink(ctx, quotation.ID)
	if err != nil {
		return err
	}
	slog.Info("seeded demo quotation", "documentId", quotation.ID, "publicPath", issued["url"])
	return nil
}

// IssuePublicLink mints a fresh public token for a document and overwrites
// any previous one. The raw token appears only in this response; the database
// keeps its hash.
func (s *Service) IssuePublicLink(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	raw := token.New()
	hash := token.Hash(raw)
	expiresAt := time.Now().Add(s.cfg.PublicLinkTTL)

	previousHash, err := s.store.SetPublicToken(ctx, doc.ID, hash, expiresAt)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, previousHash); err != nil {
			slog.Warn("invalidate superseded token failed", "documentId", doc.ID, "error", err)
		}
		if err := s.cache.Save(ctx, hash, doc.ID, expiresAt); err != nil {
			slog.Warn("cache token mapping failed", "documentId", doc.ID, "error", err)
		}
	}

	return map[string]any{
		"documentId": doc.ID,
		"token":      raw,
		"url":        "/public/" + raw,
		"expiresAt":  expiresAt,
	}, nil
}

// lookupByTokenHash finds the document currently holding a token hash. The
// cache is only a hint: any hit is re-verified against the stored hash, so a
// stale entry never resolves a superseded token.
func (s *Service) lookupByTokenHash(ctx context.Context, tokenHash string) (store.Document, bool, error) {
	if s.cache != nil {
		documentID, err := s.cache.Lookup(ctx, tokenHash)
		if err != nil {
			slog.Warn("token cache lookup failed", "error", err)
		} else if documentID != "" {
			doc, err := s.store.GetDocument(ctx, documentID)
			if err == nil && doc.PublicTokenHash != nil && *doc.PublicTokenHash == tokenHash {
				return doc, true, nil
			}
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return store.Document{}, false, err
			}
		}
	}

	doc, err := s.store.GetDocumentByTokenHash(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, err
	}
	return doc, true, nil
}

// ResolveByToken returns the public view of the document behind a token, or
// nil. Unknown and expired tokens are indistinguishable here so the public
// surface leaks nothing about which links ever existed.
func (s *Service) ResolveByToken(ctx context.Context, rawToken string) (map[string]any, error) {
	if !token.Valid(rawToken) {
		metrics.TokenResolves.WithLabelValues("invalid").Inc()
		return nil, nil
	}

	doc, found, err := s.lookupByTokenHash(ctx, token.Hash(rawToken))
	if err != nil {
		return nil, err
	}
	if !found {
		metrics.TokenResolves.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if !lifecycle.Live(doc.PublicTokenExpiresAt, time.Now()) {
		metrics.TokenResolves.WithLabelValues("expired").Inc()
		metrics.ExpiredLinkHits.Inc()
		return nil, nil
	}

	services, err := s.store.ListDocumentServices(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	metrics.TokenResolves.WithLabelValues("ok").Inc()
	return publicDocumentPayload(doc, services), nil
}

// MarkViewed records the first view behind a token. Unresolvable or expired
// tokens make this a no-op, and repeat views never move viewed_at.
func (s *Service) MarkViewed(ctx context.Context, rawToken string) error {
	if !token.Valid(rawToken) {
		return nil
	}
	doc, found, err := s.lookupByTokenHash(ctx, token.Hash(rawToken))
	if err != nil {
		return err
	}
	if !found || !lifecycle.Live(doc.PublicTokenExpiresAt, time.Now()) {
		return nil
	}
	if !lifecycle.CanMarkViewed(doc.Status) {
		return nil
	}
	changed, err := s.store.MarkDocumentViewed(ctx, doc.ID)
	if err != nil {
		return err
	}
	if changed {
		metrics.DocumentViews.Inc()
	}
	return nil
}

// JobPayload returns a work order with its task snapshot and activity trail
// for the back office.
func (s *Service) JobPayload(ctx context.Context, jobID string) (map[string]any, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListJobTasks(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	activities, err := s.store.ListJobActivities(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	taskItems := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		taskItems = append(taskItems, map[string]any{
			"id":          task.ID,
			"name":        task.Name,
			"description": task.Description,
			"frequency":   task.Frequency,
			"quantity":    task.Quantity,
			"unitPrice":   task.UnitPrice,
			"sortOrder":   task.SortOrder,
		})
	}
	activityItems := make([]map[string]any, 0, len(activities))
	for _, activity := range activities {
		activityItems = append(activityItems, map[string]any{
			"id":               activity.ID,
			"action":           activity.Action,
			"actorDescription": activity.ActorDescription,
			"createdAt":        activity.CreatedAt,
		})
	}

	return map[string]any{
		"id":             job.ID,
		"jobNumber":      job.JobNumber,
		"status":         job.Status,
		"title":          job.Title,
		"description":    job.Description,
		"accountId":      job.AccountID,
		"facilityId":     job.FacilityID,
		"scheduledStart": job.ScheduledStart,
		"scheduledEnd":   job.ScheduledEnd,
		"documentId":     job.DocumentID,
		"createdAt":      job.CreatedAt,
		"tasks":          taskItems,
		"activities":     activityItems,
	}, nil
}

// SearchJobs answers a back-office job search via the search facade.
func (s *Service) SearchJobs(ctx context.Context, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.JobRecord{}, Total: 0, Query: text}
	}
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit})
}

// JobSearchFallback builds the Postgres fallback used when Meilisearch is
// down or absent.
func JobSearchFallback(dataStore *store.PostgresStore) search.FallbackFunc {
	return func(ctx context.Context, q search.Query) ([]search.JobRecord, int, error) {
		jobs, err := dataStore.SearchJobs(ctx, q.Text, q.Limit)
		if err != nil {
			return nil, 0, err
		}
		records := make([]search.JobRecord, 0, len(jobs))
		for _, job := range jobs {
			records = append(records, searchRecord(job))
		}
		return records, len(records), nil
	}
}

func searchRecord(job store.Job) search.JobRecord {
	return search.JobRecord{
		ID:         job.ID,
		JobNumber:  job.JobNumber,
		Title:      job.Title,
		Status:     job.Status,
		AccountID:  job.AccountID,
		FacilityID: job.FacilityID,
		Period:     job.Period,
	}
}

func publicDocumentPayload(doc store.Document, services []store.DocumentService) map[string]any {
	items := make([]map[string]any, 0, len(services))
	var total int64
	for _, service := range services {
		line := service.UnitPrice * int64(service.Quantity)
		total += line
		items = append(items, map[string]any{
			"id":          service.ID,
			"name":        service.Name,
			"description": service.Description,
			"frequency":   service.Frequency,
			"quantity":    service.Quantity,
			"unitPrice":   service.UnitPrice,
			"lineTotal":   line,
			"sortOrder":   service.SortOrder,
		})
	}

	return map[string]any{
		"id":              doc.ID,
		"kind":            doc.Kind,
		"status":          string(doc.Status),
		"title":           doc.Title,
		"description":     doc.Description,
		"scheduledStart":  doc.ScheduledStart,
		"scheduledEnd":    doc.ScheduledEnd,
		"expiresAt":       doc.PublicTokenExpiresAt,
		"viewedAt":        doc.ViewedAt,
		"acceptedAt":      doc.AcceptedAt,
		"rejectedAt":      doc.RejectedAt,
		"signatureName":   doc.SignatureName,
		"signatureDate":   doc.SignatureDate,
		"rejectionReason": doc.RejectionReason,
		"services":        items,
		"total":           total,
	}
}
