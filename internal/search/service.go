package search

import (
	"context"
	"log/slog"
)

// FallbackFunc answers a search from the primary database when Meilisearch
// is unavailable.
type FallbackFunc func(ctx context.Context, q Query) ([]JobRecord, int, error)

// Service is the facade that tries Meilisearch first and falls back to the
// database query.
type Service struct {
	meili    *Meili
	fallback FallbackFunc
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, fallback FallbackFunc) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to the database.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.Warn("meilisearch search failed, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []JobRecord{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback(ctx, q)
	if err != nil {
		slog.Error("fallback search failed", "error", err)
		return Response{Results: []JobRecord{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexJob indexes a converted work order (fire-and-forget to Meilisearch).
func (s *Service) IndexJob(record JobRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexJob(record); err != nil {
			slog.Warn("index job failed", "id", record.ID, "error", err)
		}
	}()
}

// Close stops the Meilisearch health monitor, if one is running.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(records []JobRecord) []JobRecord {
	if records == nil {
		return []JobRecord{}
	}
	return records
}
