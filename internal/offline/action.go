package offline

import (
	"time"

	"github.com/google/uuid"
)

// ActionStatus represents the possible states of a queued action
const (
	ActionStatusPending   = "pending"
	ActionStatusInFlight  = "in-flight"
	ActionStatusFailed    = "failed"
	ActionStatusCompleted = "completed"
)

// Action is one buffered write: a mutating operation recorded while
// connectivity is unavailable, replayed in creation order once it returns.
type Action struct {
	ID            string    `json:"id" db:"id"`
	ActionType    string    `json:"action_type" db:"action_type"`
	TargetPath    string    `json:"target_path" db:"target_path"`
	Method        string    `json:"http_method" db:"http_method"`
	Payload       []byte    `json:"payload,omitempty" db:"payload"`
	Status        string    `json:"status" db:"status"`
	AttemptCount  int       `json:"attempt_count" db:"attempt_count"`
	LastError     string    `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt time.Time `json:"next_attempt_at" db:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// NewAction creates a pending action ready for its first attempt.
func NewAction(actionType, targetPath, method string, payload []byte) *Action {
	now := time.Now()
	return &Action{
		ID:            uuid.New().String(),
		ActionType:    actionType,
		TargetPath:    targetPath,
		Method:        method,
		Payload:       payload,
		Status:        ActionStatusPending,
		AttemptCount:  0,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal reports whether the action reached a terminal state.
func (a *Action) IsTerminal() bool {
	return a.Status == ActionStatusCompleted || a.Status == ActionStatusFailed
}
