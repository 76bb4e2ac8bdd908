package core

import "time"

const (
	StageStarting ProgressStage = "starting"
	StageComplete ProgressStage = "complete"
	StageFailed   ProgressStage = "failed"
)

const (
	OpUpdateBudget = "update"
	OpSortCatalog  = "sort"
)

// ProgressStage is an advisory run milestone.
type ProgressStage string

// Progress is a notification emitted around a run. Delivery is best-effort.
type Progress struct {
	Stage        ProgressStage
	Operation    string
	Dates        int
	Transactions int
	Err          error
	At           time.Time
}

// RunRecord summarises one completed or failed run.
type RunRecord struct {
	Operation    string
	Dates        int
	Transactions int
	Matches      int
	Started      time.Time
	Finished     time.Time
	Err          error
}

// Succeeded reports whether the run finished without error.
func (r RunRecord) Succeeded() bool {
	return r.Err == nil
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
