// Package sequence allocates monotonic, human-readable job numbers per
// prefix and period.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// MaxReader yields the current maximum sequence number for a prefix+period.
// The transaction store implements it so the read shares the accept
// transaction with the job insert.
type MaxReader interface {
	MaxJobSequence(ctx context.Context, prefix, period string) (int, error)
}

// JobNumber is a reserved work order number, e.g. WO-2026-0004.
type JobNumber struct {
	Prefix   string
	Period   string
	Sequence int
}

func (n JobNumber) String() string {
	return fmt.Sprintf("%s-%s-%04d", n.Prefix, n.Period, n.Sequence)
}

// PeriodFor returns the allocation period for a point in time. Numbers reset
// per calendar year.
func PeriodFor(t time.Time) string {
	return t.Format("2006")
}

type Allocator struct {
	Prefix string
}

// Next reserves the next number for period. A plain read-max-add-one is racy
// on its own: the unique index on (number_prefix, period, sequence_number)
// rejects the loser of a concurrent allocation, and the caller retries the
// whole transaction when IsConflict reports that rejection.
func (a Allocator) Next(ctx context.Context, src MaxReader, period string) (JobNumber, error) {
	current, err := src.MaxJobSequence(ctx, a.Prefix, period)
	if err != nil {
		return JobNumber{}, fmt.Errorf("read max sequence: %w", err)
	}
	return JobNumber{Prefix: a.Prefix, Period: period, Sequence: current + 1}, nil
}

// IsConflict reports whether err is the unique violation raised when two
// transactions claim the same number.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
