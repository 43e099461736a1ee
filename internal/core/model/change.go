package model

import (
	"encoding/json"
	"time"
)

// ChangeAction classifies a change-log entry.
type ChangeAction string

const (
	ActionInsert ChangeAction = "INSERT"
	ActionUpdate ChangeAction = "UPDATE"
	ActionDelete ChangeAction = "DELETE"
)

// ValidAction reports whether a is a recognized change action.
func ValidAction(a ChangeAction) bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ChangeEvent is one row-level delta captured on the bronze table.
// Events are produced in commit order with a monotonic ChangeSeq; the feed
// checkpoint is the last ChangeSeq a consumer has durably applied.
type ChangeEvent struct {
	// ChangeSeq is the monotonic sequence assigned on append (BIGSERIAL).
	// It is the cursor unit for checkpointing.
	ChangeSeq int64 `json:"-"`

	// EmployeeNumber is the key of the affected row. Nullable: bronze
	// accepts keyless rows, and their change events carry a NULL key.
	EmployeeNumber *int64 `json:"employee_number"`

	Action ChangeAction `json:"action"`

	// IsUpdate is the upstream producer's own insert-vs-update flag.
	// Advisory only: the merge classifies by key existence in the target,
	// never by this flag. Kept for provenance and debugging.
	IsUpdate bool `json:"is_update"`

	// Payload is the after-image of the row (a RawEmployee in JSON).
	// Nil for deletes.
	Payload json.RawMessage `json:"payload,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}
