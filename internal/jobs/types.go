// Package jobs runs categorization of freshly ingested transactions in the
// background and tracks progress through pollable job records.
package jobs

import (
	"context"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	// StatePending indicates the job is queued and no worker has picked it up.
	StatePending State = "PENDING"
	// StateRunning indicates at least one worker is processing the job.
	StateRunning State = "RUNNING"
	// StateCompleted indicates every item was processed. Individual items may
	// still have failed; see Status.Failed.
	StateCompleted State = "COMPLETED"
	// StateFailed indicates the job could not be scheduled in full.
	StateFailed State = "FAILED"
)

// Terminal reports whether no further progress will be made.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is the pollable handle of a background job.
type Status struct {
	// ID is the unique identifier for this job.
	ID string `json:"job_id"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// Total is the number of transactions handed to the job.
	Total int `json:"total"`

	// Processed counts transactions handled so far, failed ones included.
	Processed int `json:"processed"`

	// Remaining counts transactions not yet handled.
	Remaining int `json:"remaining"`

	// Failed counts transactions whose categorization failed.
	Failed int `json:"failed"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when a worker first picked the job up.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error explains a FAILED job.
	Error string `json:"error,omitempty"`
}

// Store persists job records so progress can be read after the process that
// ran the job has exited.
type Store interface {
	// Save inserts or replaces a job record.
	Save(ctx context.Context, status Status) error

	// Get returns a job by ID or an error wrapping common.ErrNotFound.
	Get(ctx context.Context, id string) (Status, error)

	// List returns every job, newest first.
	List(ctx context.Context) ([]Status, error)
}
