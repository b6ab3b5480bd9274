// Package search indexes converted jobs for back-office lookup, trying
// Meilisearch first and falling back to a Postgres query.
package search

// JobRecord is the data indexed for a converted work order.
type JobRecord struct {
	ID         string `json:"id"`
	JobNumber  string `json:"jobNumber"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	AccountID  string `json:"accountId"`
	FacilityID string `json:"facilityId"`
	Period     string `json:"period"`
}

// Query describes a job search request.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []JobRecord `json:"results"`
	Total   int         `json:"total"`
	Query   string      `json:"query"`
}
