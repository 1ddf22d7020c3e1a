package model

import "time"

// Participant is a user's registration in one contest. Rows are never
// removed; disqualification sets Deleted.
type Participant struct {
	ID           int64     `json:"id"`
	ContestID    int64     `json:"contest_id"`
	UserID       int64     `json:"user_id"`
	Penalty      int64     `json:"penalty"`
	Deleted      bool      `json:"deleted"`
	DeleteReason string    `json:"delete_reason,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
