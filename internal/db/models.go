package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB represents a JSON column stored as text
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*j = nil
			return nil
		}
		return json.Unmarshal(v, j)
	case string:
		if v == "" {
			*j = nil
			return nil
		}
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
}

// RunStatus is the overall outcome of a run
type RunStatus string

const (
	RunStarting RunStatus = "starting"
	RunRunning  RunStatus = "running"
	RunFailed   RunStatus = "failed"
	RunStopped  RunStatus = "stopped"
)

// Run is one invocation of the orchestrator
type Run struct {
	ID        string       `json:"id" db:"id"`
	Manifest  string       `json:"manifest" db:"manifest"`
	Status    RunStatus    `json:"status" db:"status"`
	Error     string       `json:"error,omitempty" db:"error"`
	Metadata  JSONB        `json:"metadata,omitempty" db:"metadata"`
	StartedAt time.Time    `json:"started_at" db:"started_at"`
	EndedAt   sql.NullTime `json:"-" db:"ended_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for Run
func (Run) TableName() string {
	return "runs"
}

// Ended returns the end time, if the run has finished
func (r Run) Ended() (time.Time, bool) {
	return r.EndedAt.Time, r.EndedAt.Valid
}

// Transition is one recorded resource state change
type Transition struct {
	ID       int64     `json:"id" db:"id"`
	RunID    string    `json:"run_id" db:"run_id"`
	Resource string    `json:"resource" db:"resource"`
	From     string    `json:"from" db:"from_state"`
	To       string    `json:"to" db:"to_state"`
	Error    string    `json:"error,omitempty" db:"error"`
	At       time.Time `json:"at" db:"at"`
}

// TableName returns the table name for Transition
func (Transition) TableName() string {
	return "transitions"
}
