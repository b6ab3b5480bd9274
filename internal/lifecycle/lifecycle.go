// Package lifecycle encodes the status graph for publicly shared documents
// and the guards that gate customer decisions on them.
package lifecycle

import (
	"errors"
	"time"
)

// Status is the closed set of states a shared document moves through.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusViewed   Status = "viewed"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

var (
	// ErrLinkExpired means the public link's expiry has passed. Checked
	// before status so an expired link never reports anything else.
	ErrLinkExpired = errors.New("public link expired")

	// ErrNotActionable means the document is outside {sent, viewed} and no
	// customer decision can change it anymore.
	ErrNotActionable = errors.New("document not actionable")
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusViewed, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Actionable reports whether a customer may still accept or reject.
func (s Status) Actionable() bool {
	return s == StatusSent || s == StatusViewed
}

// CanMarkViewed reports whether the first-view transition applies. Viewed and
// later statuses leave viewed_at untouched.
func CanMarkViewed(s Status) bool {
	return s == StatusSent
}

// Live reports whether the link is usable at the given instant. A nil expiry
// means no link was ever issued, which reads as expired.
func Live(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && expiresAt.After(now)
}

// GuardDecision validates an accept or reject attempt. The expiry check runs
// first: an expired-but-still-sent document reports expiry, and a live link
// on a terminal document reports not-actionable.
func GuardDecision(s Status, expiresAt *time.Time, now time.Time) error {
	if !Live(expiresAt, now) {
		return ErrLinkExpired
	}
	if !s.Actionable() {
		return ErrNotActionable
	}
	return nil
}
