package archive

import (
	"testing"
	"time"
)

func TestObjectNameIsDeterministic(t *testing.T) {
	receipt := Receipt{
		DocumentID: "doc-1",
		JobNumber:  "WO-2026-0002",
		AcceptedAt: time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
	}
	want := "receipts/2026/03/WO-2026-0002-doc-1.json"
	if got := ObjectName(receipt); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	// Same receipt, same key: a retried accept overwrites, never duplicates.
	if got := ObjectName(receipt); got != want {
		t.Errorf("object name not stable: %s", got)
	}
}

func TestObjectNameUsesUTCPartition(t *testing.T) {
	loc := time.FixedZone("UTC+13", 13*60*60)
	receipt := Receipt{
		DocumentID: "doc-2",
		JobNumber:  "WO-2026-0003",
		AcceptedAt: time.Date(2026, 4, 1, 0, 30, 0, 0, loc),
	}
	want := "receipts/2026/03/WO-2026-0003-doc-2.json"
	if got := ObjectName(receipt); got != want {
		t.Errorf("expected UTC partition %s, got %s", want, got)
	}
}
