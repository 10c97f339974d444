package store

import (
	"time"
)

// RunRecord is one processing run's aggregate totals. The store accepts
// counters only; no row content or field values ever reach the database.
type RunRecord struct {
	ID         string    `db:"id" json:"id"`
	Source     string    `db:"source" json:"source"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
	TotalRows  int64     `db:"total_rows" json:"total_rows"`
	Emitted    int64     `db:"emitted" json:"emitted"`
	Skipped    int64     `db:"skipped" json:"skipped"`
	Flagged    int64     `db:"flagged" json:"flagged"`
}

// CategoryTotal aggregates one category's finding count across runs.
type CategoryTotal struct {
	Category string `db:"category" json:"category"`
	Count    int64  `db:"count" json:"count"`
}

// Totals summarizes every recorded run.
type Totals struct {
	Runs      int64 `db:"runs" json:"runs"`
	TotalRows int64 `db:"total_rows" json:"total_rows"`
	Emitted   int64 `db:"emitted" json:"emitted"`
	Skipped   int64 `db:"skipped" json:"skipped"`
	Flagged   int64 `db:"flagged" json:"flagged"`
}
