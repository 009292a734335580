package model

// ProgressEvent is pushed to a job's listener. Fields are omitted when they
// do not apply, so one type covers epoch, candidate and terminal shapes.
type ProgressEvent struct {
	Type string `json:"type"`

	Epoch       int `json:"epoch,omitempty"`
	TotalEpochs int `json:"total_epochs,omitempty"`

	CandidateIndex  int     `json:"candidate_index,omitempty"`
	TotalCandidates int     `json:"total_candidates,omitempty"`
	Epochs          int     `json:"epochs,omitempty"`
	TestSize        float64 `json:"test_size,omitempty"`
	TempID          string  `json:"temp_id,omitempty"`

	Loss *float64 `json:"loss,omitempty"`
	MAE  *float64 `json:"mae,omitempty"`
	MSE  *float64 `json:"mse,omitempty"`
	R2   *float64 `json:"r2,omitempty"`

	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Progress event types.
const (
	EventEpoch     = "epoch"
	EventCandidate = "candidate"
	EventStatus    = "status"
)

// F returns a pointer to v for the optional metric fields.
func F(v float64) *float64 { return &v }
