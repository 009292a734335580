package model

import "time"

// JobStatus represents the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusUnknown   JobStatus = "unknown"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobKind names the work a job performs.
type JobKind string

const (
	JobKindTrain  JobKind = "train"
	JobKindAutoML JobKind = "automl"
)

// TrainParams are the inputs of a single training run.
type TrainParams struct {
	ModelName string   `json:"model_name"`
	Features  []string `json:"features"`
	Epochs    int      `json:"epochs"`
	TestSize  float64  `json:"test_size"`
}

// SweepParams are the inputs of an AutoML sweep.
type SweepParams struct {
	ModelName       string    `json:"model_name"`
	Features        []string  `json:"features"`
	EpochOptions    []int     `json:"epochs_options"`
	TestSizeOptions []float64 `json:"test_size_options"`
}

// Job is a snapshot of a tracked background job.
type Job struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	ModelName string    `json:"model_name"`
	Params    any       `json:"params,omitempty"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusLine renders the polling form: "failed: <reason>" for failures.
func (j Job) StatusLine() string {
	if j.Status == JobStatusFailed && j.Error != "" {
		return string(j.Status) + ": " + j.Error
	}
	return string(j.Status)
}
