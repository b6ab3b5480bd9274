package store

import (
	"time"

	"cleanops/api/internal/lifecycle"
)

// Document is a quotation, contract, or proposal shared with a customer
// through a public link. The three kinds are structurally identical here.
type Document struct {
	ID          string
	Kind        string
	Status      lifecycle.Status
	Title       string
	Description string
	AccountID   string
	FacilityID  string

	ScheduledStart *time.Time
	ScheduledEnd   *time.Time

	// Only the SHA-256 of the public token is stored; issuing a new link
	// overwrites both fields and permanently orphans the old token.
	PublicTokenHash      *string
	PublicTokenExpiresAt *time.Time

	ViewedAt   *time.Time
	AcceptedAt *time.Time
	RejectedAt *time.Time

	SignatureName   *string
	SignatureDate   *time.Time
	SignatureIP     *string
	RejectionReason *string

	// GeneratedJobID links the at-most-one job created on acceptance.
	GeneratedJobID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentService is a priced service line on a document. Lines are read-only
// inputs here and are snapshotted into JobTasks at conversion.
type DocumentService struct {
	ID          string
	DocumentID  string
	Name        string
	Description string
	Frequency   string
	Quantity    int
	UnitPrice   int64
	SortOrder   int
}

// Job is the internal work order created when a quotation is accepted.
type Job struct {
	ID             string
	JobNumber      string
	NumberPrefix   string
	Period         string
	SequenceNumber int
	Status         string
	Title          string
	Description    string
	AccountID      string
	FacilityID     string
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	DocumentID     string
	CreatedAt      time.Time
}

// JobTask is an immutable snapshot of one document service line, not a live
// reference back to any pricing template.
type JobTask struct {
	ID          string
	JobID       string
	Name        string
	Description string
	Frequency   string
	Quantity    int
	UnitPrice   int64
	SortOrder   int
	CreatedAt   time.Time
}

// JobActivity is one append-only audit record. Nothing in this service
// updates or deletes these rows.
type JobActivity struct {
	ID               int64
	JobID            string
	Action           string
	ActorDescription string
	CreatedAt        time.Time
}
