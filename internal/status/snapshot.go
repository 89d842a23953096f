// Package status provides the event primitives, resilient stream client, and
// polling fallback used to follow a single audit job's progress. The stream is
// the primary delivery path; when it cannot be kept open the client degrades
// to point-in-time polling with the same callback contract.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
)

// State denotes what an audit run is currently doing.
type State string

// Supported job states. Completed and Failed are terminal.
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further snapshots should follow this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Snapshot is a single point-in-time status report for one job. It is
// produced by the backend and relayed verbatim; the client never mutates it.
type Snapshot struct {
	// JobID names the audit run this snapshot belongs to.
	JobID string `json:"job_id"`
	// Progress is a 0-100 completion percentage.
	Progress int `json:"progress"`
	// Status is the job lifecycle state.
	Status State `json:"status"`
	// ErrorMessage carries backend failure detail for failed runs.
	ErrorMessage string `json:"error_message,omitempty"`
	// Result holds audit-specific result fields once the run completes.
	Result map[string]any `json:"result,omitempty"`
}

// Validate performs coarse validation on Snapshot payloads.
func (s Snapshot) Validate() error {
	if s.JobID == "" {
		return errors.New("job id is required")
	}
	if s.Progress < 0 || s.Progress > 100 {
		return fmt.Errorf("progress %d out of range", s.Progress)
	}
	switch s.Status {
	case StatePending, StateRunning, StateCompleted, StateFailed:
	default:
		return fmt.Errorf("unknown status %q", s.Status)
	}
	return nil
}

// ParseSnapshot decodes one framed JSON snapshot and validates it.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("invalid snapshot: %w", err)
	}
	return snap, nil
}
