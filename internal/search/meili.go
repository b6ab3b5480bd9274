package search

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxJobs = "cleanops_jobs"

// Meili indexes and searches jobs via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the jobs index. The
// caller proceeds without search if the instance stays unreachable; the
// health loop reconfigures once it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxJobs,
		PrimaryKey: "id",
	}); err != nil {
		slog.Warn("create jobs index (may already exist)", "error", err)
	}

	index := m.client.Index(idxJobs)
	filterable := []interface{}{"status", "accountId", "facilityId", "period"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		slog.Warn("update filterable attrs", "error", err)
	}
	searchable := []string{"jobNumber", "title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		slog.Warn("update searchable attrs", "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				slog.Info("meilisearch recovered, reconfiguring jobs index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) IndexJob(record JobRecord) error {
	_, err := m.client.Index(idxJobs).AddDocuments([]JobRecord{record}, nil)
	return err
}

func (m *Meili) Search(q Query) ([]JobRecord, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	resp, err := m.client.Index(idxJobs).Search(q.Text, &meili.SearchRequest{
		Limit: int64(limit),
	})
	if err != nil {
		return nil, 0, err
	}

	results := make([]JobRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, JobRecord{
			ID:         decodeString(hit, "id"),
			JobNumber:  decodeString(hit, "jobNumber"),
			Title:      decodeString(hit, "title"),
			Status:     decodeString(hit, "status"),
			AccountID:  decodeString(hit, "accountId"),
			FacilityID: decodeString(hit, "facilityId"),
			Period:     decodeString(hit, "period"),
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
