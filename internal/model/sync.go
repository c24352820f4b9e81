package model

import "time"

// TargetEntry is a stock-carrying record on the second commerce platform.
type TargetEntry struct {
	Key          string
	CurrentValue int
	ProductID    int64
	VariantID    int64
}

// ReconcileFailure records one write that did not go through.
type ReconcileFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	Upserted int                `json:"upserted"`
	Skipped  int                `json:"skipped"`
	Failed   []ReconcileFailure `json:"failed"`
}

// Sync run statuses.
const (
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusFailed  = "failed"
)

// SyncReport summarizes one sync run. Partial means some record writes
// failed; the failures are listed per target.
type SyncReport struct {
	RunID       string           `json:"run_id"`
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	Incremental bool             `json:"incremental"`
	Since       *time.Time       `json:"since,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Fetched     int              `json:"fetched"`
	Included    int              `json:"included"`
	Store       *ReconcileResult `json:"store,omitempty"`
	Platform    *ReconcileResult `json:"platform,omitempty"`
}
