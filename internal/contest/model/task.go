package model

import "time"

// GradingMode decides how per-test results become a submission's points.
type GradingMode string

const (
	GradingBinary        GradingMode = "binary"
	GradingBinaryPerTest GradingMode = "binary-per-test"
	GradingPointsPerTest GradingMode = "points-per-test"
)

// Valid reports whether m is a known grading mode.
func (m GradingMode) Valid() bool {
	switch m {
	case GradingBinary, GradingBinaryPerTest, GradingPointsPerTest:
		return true
	}
	return false
}

// AnswerType selects how the judge compares output with the expected answer.
type AnswerType string

const (
	AnswerConstant AnswerType = "constant"
	AnswerVariable AnswerType = "variable"
)

// ExecuteType selects whether the judge compiles before running.
type ExecuteType string

const (
	ExecuteRunOnly     ExecuteType = "run-only"
	ExecuteBuildAndRun ExecuteType = "build-and-run"
)

const (
	DefaultTimeLimitSec  = 1
	DefaultMemoryLimitMB = 128
	DefaultTestMaxPoints = 1
)

// CourseBinding attaches a task to a course. A task without one is a plain
// catalog task usable in contests.
type CourseBinding struct {
	CourseID   int64 `json:"course_id" validate:"required,gt=0"`
	Difficulty int   `json:"difficulty" validate:"min=0,max=10"`
	Visible    bool  `json:"visible"`
}

// Task is a gradeable problem. Version increases on every update so judge
// workers can drop cached test data.
type Task struct {
	ID                  int64          `json:"id"`
	OwnerID             int64          `json:"owner_id"`
	Title               string         `json:"title"`
	Statement           string         `json:"statement"`
	InputExample        string         `json:"input_example"`
	OutputExample       string         `json:"output_example"`
	TimeLimitSec        int            `json:"time_limit_sec"`
	MemoryLimitMB       int            `json:"memory_limit_mb"`
	AnswerType          AnswerType     `json:"answer_type"`
	ExecuteType         ExecuteType    `json:"execute_type"`
	Grading             GradingMode    `json:"grading"`
	Version             int            `json:"version"`
	IsValidated         bool           `json:"is_validated"`
	ReferenceArtifactID int64          `json:"reference_artifact_id,omitempty"`
	Course              *CourseBinding `json:"course,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// TestCase is one input/answer pair. Tests are ordered by ID.
type TestCase struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	Content   string `json:"content"`
	Answer    string `json:"answer"`
	MaxPoints int64  `json:"max_points"`
}

// TestCaseSpec is the input for a new test case. A nil MaxPoints means one point.
type TestCaseSpec struct {
	Content   string `json:"content"`
	Answer    string `json:"answer"`
	MaxPoints *int64 `json:"max_points" validate:"omitempty,min=0"`
}

// Points returns the configured maximum.
func (s TestCaseSpec) Points() int64 {
	if s.MaxPoints == nil {
		return DefaultTestMaxPoints
	}
	return *s.MaxPoints
}

// ReferenceSolution is the author's own solution, graded to validate the tests.
type ReferenceSolution struct {
	Language string `json:"language" validate:"required"`
	Filename string `json:"filename" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

// TaskSpec carries the editable fields of a task.
type TaskSpec struct {
	Title         string             `json:"title" validate:"required,max=255"`
	Statement     string             `json:"statement" validate:"required"`
	InputExample  string             `json:"input_example"`
	OutputExample string             `json:"output_example"`
	TimeLimitSec  int                `json:"time_limit_sec" validate:"min=0,max=60"`
	MemoryLimitMB int                `json:"memory_limit_mb" validate:"min=0,max=4096"`
	AnswerType    AnswerType         `json:"answer_type" validate:"omitempty,oneof=constant variable"`
	ExecuteType   ExecuteType        `json:"execute_type" validate:"omitempty,oneof=run-only build-and-run"`
	Grading       GradingMode        `json:"grading" validate:"required,oneof=binary binary-per-test points-per-test"`
	Course        *CourseBinding     `json:"course" validate:"omitempty"`
	Tests         []TestCaseSpec     `json:"tests" validate:"dive"`
	Reference     *ReferenceSolution `json:"reference" validate:"omitempty"`
}

// ApplyDefaults fills limits and modes left empty by the caller.
func (s *TaskSpec) ApplyDefaults() {
	if s.TimeLimitSec == 0 {
		s.TimeLimitSec = DefaultTimeLimitSec
	}
	if s.MemoryLimitMB == 0 {
		s.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if s.AnswerType == "" {
		s.AnswerType = AnswerConstant
	}
	if s.ExecuteType == "" {
		s.ExecuteType = ExecuteBuildAndRun
	}
}

// Apply copies the spec's description and limits onto t. Tests are handled
// separately because they are append-only.
func (s TaskSpec) Apply(t *Task) {
	t.Title = s.Title
	t.Statement = s.Statement
	t.InputExample = s.InputExample
	t.OutputExample = s.OutputExample
	t.TimeLimitSec = s.TimeLimitSec
	t.MemoryLimitMB = s.MemoryLimitMB
	t.AnswerType = s.AnswerType
	t.ExecuteType = s.ExecuteType
	t.Grading = s.Grading
	t.Course = s.Course
}
