package types

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunInProgress RunStatus = "in-progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Experiment is a named grouping of runs. Immutable once created
// except for the set of runs it owns.
type Experiment struct {
	// ID is the database-local experiment id
	ID int64

	// GUID is the globally unique experiment identifier
	GUID string

	// Name is the experiment name
	Name string

	// SampleName identifies the measured sample
	SampleName string

	// CreatedAt is the creation timestamp
	CreatedAt time.Time
}

// Run is one executed parameter sweep and its resulting rows.
type Run struct {
	// ID is the run id, strictly increasing and never reused
	ID int64

	// GUID is the globally unique run identifier
	GUID string

	// ExperimentID is the owning experiment
	ExperimentID int64

	// Schema is the parameter layout, fixed at creation
	Schema RunSchema

	// Status is the lifecycle state
	Status RunStatus

	// CreatedAt is the run creation timestamp
	CreatedAt time.Time

	// CompletedAt is set once the run reaches a terminal state
	CompletedAt *time.Time

	// RowCount is the number of committed result rows
	RowCount int64

	// SnapshotHash references the instrument snapshot captured at
	// run creation; empty when no snapshot was provided
	SnapshotHash string
}
