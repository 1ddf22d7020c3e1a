package model

import "time"

// Status is the grading lifecycle position of a submission.
type Status string

const (
	StatusAwaitingCheck  Status = "awaiting-check"
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in-progress"
	StatusCheckFailed    Status = "check-failed"
	StatusCheckSucceeded Status = "check-succeeded"
)

// Terminal reports whether a grading attempt has finished.
func (s Status) Terminal() bool {
	return s == StatusCheckFailed || s == StatusCheckSucceeded
}

// Verdict is the judge's outcome category.
type Verdict string

const (
	VerdictNone         Verdict = "none"
	VerdictWrongFormat  Verdict = "wrong-format"
	VerdictTooLarge     Verdict = "too-large"
	VerdictBuildFailed  Verdict = "build-failed"
	VerdictRuntimeError Verdict = "runtime-error"
	VerdictTimeLimit    Verdict = "time-limit"
	VerdictMemoryLimit  Verdict = "memory-limit"
	VerdictWrongAnswer  Verdict = "wrong-answer"
	VerdictPartial      Verdict = "partial"
	VerdictCorrect      Verdict = "correct"
)

// IsFailure reports verdicts that end an attempt in check-failed.
func (v Verdict) IsFailure() bool {
	switch v {
	case VerdictWrongFormat, VerdictTooLarge, VerdictBuildFailed,
		VerdictRuntimeError, VerdictTimeLimit, VerdictMemoryLimit:
		return true
	}
	return false
}

// IsJudgement reports verdicts that end an attempt in check-succeeded.
func (v Verdict) IsJudgement() bool {
	return v == VerdictCorrect || v == VerdictWrongAnswer || v == VerdictPartial
}

// EventType tells contestant solutions apart from task self-validation runs.
type EventType string

const (
	EventUserSolution     EventType = "user-solution"
	EventAuthorValidation EventType = "author-validation"
)

// Submission is one graded code upload. Zero-valued ContestID, ParticipantID
// and CourseID mean the reference is absent.
type Submission struct {
	ID               int64     `json:"id"`
	AuthorID         int64     `json:"author_id"`
	TaskID           int64     `json:"task_id"`
	ArtifactID       int64     `json:"artifact_id"`
	Language         string    `json:"language"`
	ContestID        int64     `json:"contest_id,omitempty"`
	ParticipantID    int64     `json:"participant_id,omitempty"`
	CourseID         int64     `json:"course_id,omitempty"`
	EventType        EventType `json:"event_type"`
	Status           Status    `json:"status"`
	Verdict          Verdict   `json:"verdict"`
	VerdictText      string    `json:"verdict_text"`
	Points           int64     `json:"points"`
	CurrentTestIndex int       `json:"current_test_index"`
	Attempt          int       `json:"attempt"`
	TaskVersion      int       `json:"task_version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewSubmission returns an ungraded submission in awaiting-check.
func NewSubmission(authorID, taskID, artifactID int64, eventType EventType, now time.Time) Submission {
	return Submission{
		AuthorID:   authorID,
		TaskID:     taskID,
		ArtifactID: artifactID,
		EventType:  eventType,
		Status:     StatusAwaitingCheck,
		Verdict:    VerdictNone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Scored reports whether the submission counts towards a contest scoreboard.
func (s Submission) Scored() bool {
	return s.ContestID > 0 && s.ParticipantID > 0 && s.EventType == EventUserSolution
}

// GradedAgainst reports whether the running attempt was dispatched with the
// tests of the given task version. Rows queued before versions were recorded
// always match.
func (s Submission) GradedAgainst(taskVersion int) bool {
	return s.TaskVersion == 0 || s.TaskVersion == taskVersion
}

var transitions = map[Status][]Status{
	StatusAwaitingCheck:  {StatusQueued},
	StatusQueued:         {StatusInProgress},
	StatusInProgress:     {StatusInProgress, StatusCheckFailed, StatusCheckSucceeded},
	StatusCheckFailed:    {StatusAwaitingCheck},
	StatusCheckSucceeded: {StatusAwaitingCheck},
}

// CanTransition reports whether from -> to is an edge of the grading state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RejudgeFrom lists the statuses a rejudge may start from. Forced rejudges
// also recover attempts the judge never finished and submissions that were
// never dispatched.
func RejudgeFrom(force bool) []Status {
	if force {
		return []Status{StatusCheckFailed, StatusCheckSucceeded, StatusInProgress, StatusQueued, StatusAwaitingCheck}
	}
	return []Status{StatusCheckFailed, StatusCheckSucceeded}
}
