// Package store persists the job history the registry writes through on
// every status transition.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse/internal/model"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// defaultListLimit caps ListJobs when the filter sets no limit.
const defaultListLimit = 100

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status    model.JobStatus `json:"status,omitempty"`
	Kind      model.JobKind   `json:"kind,omitempty"`
	ModelName string          `json:"model_name,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

func (f JobFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for job history.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by driver and migrates it. DriverNone
// and "" return a nil Store.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		st, err = NewSQLite(dsn)
	case DriverPostgres:
		st, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func marshalParams(params any) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	b, err := json.Marshal(params)
	return b, eris.Wrap(err, "store: marshal params")
}

// rawParams keeps stored params as raw JSON so they render unchanged.
func rawParams(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
