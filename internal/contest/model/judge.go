package model

import (
	"time"

	"eduoj/internal/language"
)

// JudgeJob is published to the judge queue once per grading attempt.
type JudgeJob struct {
	SubmissionID  int64             `json:"submission_id"`
	Attempt       int               `json:"attempt"`
	TaskID        int64             `json:"task_id"`
	TaskVersion   int               `json:"task_version"`
	EventType     EventType         `json:"event_type"`
	Language      string            `json:"language"`
	Commands      language.Commands `json:"commands"`
	SourceFile    string            `json:"source_file"`
	SourceBucket  string            `json:"source_bucket"`
	SourceKey     string            `json:"source_key"`
	SourceDigest  string            `json:"source_digest"`
	TimeLimitMs   int64             `json:"time_limit_ms"`
	MemoryLimitMB int               `json:"memory_limit_mb"`
	AnswerType    AnswerType        `json:"answer_type"`
	ExecuteType   ExecuteType       `json:"execute_type"`
	Grading       GradingMode       `json:"grading"`
	Tests         []JobTest         `json:"tests"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
}

// JobTest is a test case as the judge receives it. Index is its position in
// the task's test order and is what results refer back to.
type JobTest struct {
	Index     int    `json:"index"`
	ID        int64  `json:"id"`
	Input     string `json:"input"`
	Answer    string `json:"answer"`
	MaxPoints int64  `json:"max_points"`
}

// TestResult is the judge's outcome for one test. A nil Points on a passed
// test awards the test's full max_points.
type TestResult struct {
	Index   int     `json:"index"`
	Passed  bool    `json:"passed"`
	Points  *int64  `json:"points,omitempty"`
	Verdict Verdict `json:"verdict,omitempty"`
}

// GradingReport is a progress or final update from the judge. Zero Attempt
// or TaskVersion means the reporter does not fence on it.
type GradingReport struct {
	Attempt          int          `json:"attempt,omitempty"`
	TaskVersion      int          `json:"task_version,omitempty"`
	Status           Status       `json:"status"`
	Verdict          Verdict      `json:"verdict"`
	VerdictText      string       `json:"verdict_text"`
	Points           *int64       `json:"points"`
	CurrentTestIndex *int         `json:"current_test_index"`
	Tests            []TestResult `json:"tests,omitempty"`
}

// ResultMessage is the judge.result topic payload.
type ResultMessage struct {
	SubmissionID int64 `json:"submission_id"`
	GradingReport
}
