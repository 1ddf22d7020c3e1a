package service

import (
	"context"
	"errors"
	"fmt"

	"eduoj/internal/common/db"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/repository"
	appErr "eduoj/pkg/errors"
	"eduoj/pkg/utils/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ValidationSubmitter dispatches a task author's reference solution.
type ValidationSubmitter interface {
	SubmitForValidation(ctx context.Context, authorID int64, task *model.Task, ref model.ReferenceSolution) (*model.Submission, error)
}

// TaskConfig holds task catalog dependencies.
type TaskConfig struct {
	Provider  db.Provider
	Tasks     repository.TaskRepository
	Validator ValidationSubmitter
	Timeouts  TimeoutConfig
}

// TaskService manages the task catalog and the author validation flag.
type TaskService struct {
	provider  db.Provider
	tasks     repository.TaskRepository
	submitter ValidationSubmitter
	validate  *validator.Validate
	timeouts  TimeoutConfig
}

// TaskResult is a stored task together with the validation run its
// reference solution started, if any.
type TaskResult struct {
	Task       *model.Task       `json:"task"`
	Tests      int               `json:"tests"`
	Validation *model.Submission `json:"validation,omitempty"`
}

// NewTaskService creates a task service.
func NewTaskService(cfg TaskConfig) (*TaskService, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("database provider is required")
	}
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	return &TaskService{
		provider:  cfg.Provider,
		tasks:     cfg.Tasks,
		submitter: cfg.Validator,
		validate:  validator.New(),
		timeouts:  cfg.Timeouts,
	}, nil
}

// Create stores a task with its initial tests. A reference solution starts
// an author-validation run.
func (s *TaskService) Create(ctx context.Context, actor Actor, spec model.TaskSpec) (*TaskResult, error) {
	if !actor.IsStaff() {
		return nil, appErr.New(appErr.TaskAccessDenied).WithMessage("only teachers may create tasks")
	}
	if err := s.validateSpec(&spec); err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	task := &model.Task{OwnerID: actor.UserID}
	spec.Apply(task)
	var tests []model.TestCase
	err := db.WithTx(ctxDB.ctx, s.provider, nil, func(tx db.Transaction) error {
		if _, err := s.tasks.Create(ctxDB.ctx, tx, task); err != nil {
			return appErr.Wrapf(err, appErr.TaskCreateFailed, "create task failed")
		}
		var err error
		tests, err = s.tasks.AddTests(ctxDB.ctx, tx, task.ID, spec.Tests)
		if err != nil {
			return appErr.Wrapf(err, appErr.TaskCreateFailed, "store tests failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.tasks.Invalidate(ctx, task.ID)
	logger.Info(ctx, "task created", zap.Int64("task_id", task.ID), zap.Int("tests", len(tests)))

	result := &TaskResult{Task: task, Tests: len(tests)}
	if spec.Reference != nil {
		result.Validation, err = s.startValidation(ctx, actor, task, *spec.Reference)
		if err != nil {
			return nil, err
		}
	}
	// Storing tests bumps the version, so report the row as persisted.
	result.Task, err = s.load(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update replaces the description and limits. Tests and past submissions
// are untouched; a new reference solution restarts validation.
func (s *TaskService) Update(ctx context.Context, actor Actor, taskID int64, spec model.TaskSpec) (*TaskResult, error) {
	if err := s.validateSpec(&spec); err != nil {
		return nil, err
	}
	task, err := s.owned(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	spec.Apply(task)
	if err := s.tasks.Update(ctxDB.ctx, nil, task); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, appErr.New(appErr.TaskNotFound).WithMessage("task not found")
		}
		return nil, appErr.Wrapf(err, appErr.TaskUpdateFailed, "update task failed")
	}
	logger.Info(ctx, "task updated", zap.Int64("task_id", task.ID), zap.Int("version", task.Version))

	tests, err := s.tasks.ListTests(ctxDB.ctx, nil, task.ID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list tests failed")
	}
	result := &TaskResult{Task: task, Tests: len(tests)}
	if spec.Reference != nil {
		result.Validation, err = s.startValidation(ctx, actor, task, *spec.Reference)
		if err != nil {
			return nil, err
		}
	}
	// Storing tests bumps the version, so report the row as persisted.
	result.Task, err = s.load(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TaskService) startValidation(ctx context.Context, actor Actor, task *model.Task, ref model.ReferenceSolution) (*model.Submission, error) {
	if s.submitter == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("validation is not configured")
	}
	return s.submitter.SubmitForValidation(ctx, actor.UserID, task, ref)
}

// Get returns a task. Hidden course tasks are visible to their owner and
// admins only.
func (s *TaskService) Get(ctx context.Context, actor Actor, taskID int64) (*model.Task, error) {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Course != nil && !task.Course.Visible && !actor.Owns(task.OwnerID) {
		return nil, appErr.New(appErr.TaskAccessDenied).WithMessage("task is not visible")
	}
	return task, nil
}

// ListTests returns the tests in grading order. Answers are only shown to
// the owner.
func (s *TaskService) ListTests(ctx context.Context, actor Actor, taskID int64) ([]model.TestCase, error) {
	if _, err := s.owned(ctx, actor, taskID); err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	tests, err := s.tasks.ListTests(ctxDB.ctx, nil, taskID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list tests failed")
	}
	return tests, nil
}

// AddTests appends tests. The task must be validated again afterwards.
func (s *TaskService) AddTests(ctx context.Context, actor Actor, taskID int64, specs []model.TestCaseSpec) ([]model.TestCase, error) {
	if len(specs) == 0 {
		return nil, appErr.ValidationError("tests", "required")
	}
	for i := range specs {
		if err := s.validate.Struct(specs[i]); err != nil {
			return nil, appErr.Wrap(err, appErr.TestCaseInvalid).WithMessage(err.Error()).WithDetail("index", i)
		}
	}
	if _, err := s.owned(ctx, actor, taskID); err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	var added []model.TestCase
	err := db.WithTx(ctxDB.ctx, s.provider, nil, func(tx db.Transaction) error {
		var err error
		added, err = s.tasks.AddTests(ctxDB.ctx, tx, taskID, specs)
		if err != nil {
			return appErr.Wrapf(err, appErr.TaskUpdateFailed, "store tests failed")
		}
		if err := s.tasks.SetValidated(ctxDB.ctx, tx, taskID, false); err != nil {
			return appErr.Wrapf(err, appErr.TaskUpdateFailed, "reset validation failed")
		}
		return nil
	})
	s.tasks.Invalidate(ctx, taskID)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "tests added", zap.Int64("task_id", taskID), zap.Int("added", len(added)))
	return added, nil
}

// MarkValidation sets the validated flag from a finished author-validation
// run. Runs of a superseded reference solution are ignored.
func (s *TaskService) MarkValidation(ctx context.Context, submission model.Submission) error {
	if submission.EventType != model.EventAuthorValidation || !submission.Status.Terminal() {
		return nil
	}
	task, err := s.load(ctx, submission.TaskID)
	if err != nil {
		return err
	}
	if task.ReferenceArtifactID != 0 && task.ReferenceArtifactID != submission.ArtifactID {
		logger.Info(ctx, "ignoring validation of superseded reference",
			zap.Int64("task_id", task.ID), zap.Int64("submission_id", submission.ID))
		return nil
	}
	validated := submission.Status == model.StatusCheckSucceeded && submission.Verdict == model.VerdictCorrect
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.tasks.SetValidated(ctxDB.ctx, nil, task.ID, validated); err != nil {
		return appErr.Wrapf(err, appErr.TaskUpdateFailed, "update validation flag failed")
	}
	logger.Info(ctx, "task validation finished",
		zap.Int64("task_id", task.ID), zap.Bool("validated", validated), zap.String("verdict", string(submission.Verdict)))
	return nil
}

// HandleFinalStatus implements FinalStatusHandler.
func (s *TaskService) HandleFinalStatus(ctx context.Context, submission model.Submission) error {
	return s.MarkValidation(ctx, submission)
}

func (s *TaskService) validateSpec(spec *model.TaskSpec) error {
	spec.ApplyDefaults()
	if err := s.validate.Struct(spec); err != nil {
		return appErr.Wrap(err, appErr.TaskInvalid).WithMessage(err.Error())
	}
	return nil
}

func (s *TaskService) owned(ctx context.Context, actor Actor, taskID int64) (*model.Task, error) {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(task.OwnerID) {
		return nil, appErr.New(appErr.TaskAccessDenied).WithMessage("only the task owner may do this")
	}
	return task, nil
}

func (s *TaskService) load(ctx context.Context, taskID int64) (*model.Task, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	task, err := s.tasks.GetByID(ctxDB.ctx, nil, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, appErr.New(appErr.TaskNotFound).WithMessage("task not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get task failed")
	}
	return task, nil
}
