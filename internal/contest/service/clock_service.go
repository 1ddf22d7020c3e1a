package service

import (
	"context"
	"fmt"
	"time"

	"eduoj/internal/common/db"
	"eduoj/internal/common/metrics"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/repository"
	appErr "eduoj/pkg/errors"
	"eduoj/pkg/utils/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var phaseOrder = map[model.Phase]int{
	model.PhaseWaitForStart: 0,
	model.PhaseActive:       1,
	model.PhaseFinished:     2,
}

// ClockConfig holds contest clock dependencies.
type ClockConfig struct {
	Provider   db.Provider
	Contests   repository.ContestRepository
	Tasks      repository.TaskRepository
	Publisher  TransitionPublisher
	Scoreboard Invalidator
	Timeouts   TimeoutConfig
	Now        func() time.Time
}

// ClockService owns contest lifecycle: creation, the task set and phase
// transitions driven by clock checks.
type ClockService struct {
	provider   db.Provider
	contests   repository.ContestRepository
	tasks      repository.TaskRepository
	publisher  TransitionPublisher
	scoreboard Invalidator
	validate   *validator.Validate
	timeouts   TimeoutConfig
	now        func() time.Time
}

// NewClockService creates a contest clock service.
func NewClockService(cfg ClockConfig) (*ClockService, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("database provider is required")
	}
	if cfg.Contests == nil || cfg.Tasks == nil {
		return nil, fmt.Errorf("contest and task repositories are required")
	}
	return &ClockService{
		provider:   cfg.Provider,
		contests:   cfg.Contests,
		tasks:      cfg.Tasks,
		publisher:  cfg.Publisher,
		scoreboard: cfg.Scoreboard,
		validate:   validator.New(),
		timeouts:   cfg.Timeouts,
		now:        nowFunc(cfg.Now),
	}, nil
}

// Check evaluates the clock and persists a forward phase change. Of any
// number of concurrent checks only the one whose compare-and-swap lands
// reports the transition event.
func (s *ClockService) Check(ctx context.Context, contestID int64) (*model.ClockReading, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	contest, err := loadContest(ctxDB.ctx, s.contests, nil, contestID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	phase := contest.PhaseAt(now)
	reading := &model.ClockReading{Phase: phase, EndTime: contest.EndTime()}
	if phase == model.PhaseActive {
		secs := int64(contest.Remaining(now) / time.Second)
		reading.CountdownSeconds = &secs
		reading.Countdown = model.FormatCountdown(contest.Remaining(now))
	}

	from := contest.Status
	if phaseOrder[phase] <= phaseOrder[from] {
		return reading, nil
	}
	won, err := s.contests.CompareAndSetStatus(ctxDB.ctx, nil, contestID, from, phase)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "update contest status failed")
	}
	if !won {
		return reading, nil
	}

	metrics.ContestTransitions.WithLabelValues(string(phase)).Inc()
	logger.Info(ctx, "contest phase changed",
		zap.Int64("contest_id", contestID), zap.String("from", string(from)), zap.String("to", string(phase)))
	invalidate(ctx, s.scoreboard, contestID)

	event := model.NewTransitionEvent(*contest, from, phase, now)
	reading.TransitionEvent = event
	if event != nil {
		s.publish(ctx, *event)
	}
	return reading, nil
}

func (s *ClockService) publish(ctx context.Context, event model.TransitionEvent) {
	if s.publisher == nil {
		return
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.publisher.PublishTransition(ctxMQ.ctx, event); err != nil {
		logger.Warn(ctx, "publish contest transition failed",
			zap.Int64("contest_id", event.ContestID), zap.String("type", event.Type), zap.Error(err))
	}
}

// Create stores a new contest in wait-for-start. The first clock check moves
// it forward if the start is already past.
func (s *ClockService) Create(ctx context.Context, actor Actor, spec model.ContestSpec) (*model.Contest, error) {
	if !actor.IsStaff() {
		return nil, appErr.New(appErr.ContestAccessDenied).WithMessage("only teachers may create contests")
	}
	if err := s.validate.Struct(spec); err != nil {
		return nil, appErr.Wrap(err, appErr.ValidationFailed).WithMessage(err.Error())
	}
	taskIDs, err := uniqueIDs(spec.TaskIDs)
	if err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.requireTasks(ctxDB.ctx, taskIDs); err != nil {
		return nil, err
	}

	contest := &model.Contest{
		OwnerID:     actor.UserID,
		CourseID:    spec.CourseID,
		Title:       spec.Title,
		Description: spec.Description,
		StartTime:   spec.StartTime.UTC(),
		Duration:    time.Duration(spec.DurationMinutes) * time.Minute,
		Status:      model.PhaseWaitForStart,
		TaskIDs:     taskIDs,
	}
	err = db.WithTx(ctxDB.ctx, s.provider, nil, func(tx db.Transaction) error {
		_, err := s.contests.Create(ctxDB.ctx, tx, contest)
		return err
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ContestCreateFailed, "create contest failed")
	}
	logger.Info(ctx, "contest created", zap.Int64("contest_id", contest.ID), zap.Int64("owner_id", actor.UserID))
	return s.Get(ctx, contest.ID)
}

// Get loads a contest with its task ids.
func (s *ClockService) Get(ctx context.Context, contestID int64) (*model.Contest, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	return loadContest(ctxDB.ctx, s.contests, nil, contestID)
}

// SetTasks replaces the ordered task set. Finished contests are frozen.
func (s *ClockService) SetTasks(ctx context.Context, actor Actor, contestID int64, taskIDs []int64) (*model.Contest, error) {
	ids, err := uniqueIDs(taskIDs)
	if err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	contest, err := loadContest(ctxDB.ctx, s.contests, nil, contestID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(contest.OwnerID) {
		return nil, appErr.New(appErr.ContestAccessDenied).WithMessage("only the contest owner may change its tasks")
	}
	if contest.PhaseAt(s.now()) == model.PhaseFinished {
		return nil, appErr.New(appErr.ContestEnded).WithMessage("contest has finished")
	}
	if err := s.requireTasks(ctxDB.ctx, ids); err != nil {
		return nil, err
	}
	err = db.WithTx(ctxDB.ctx, s.provider, nil, func(tx db.Transaction) error {
		return s.contests.SetTasks(ctxDB.ctx, tx, contestID, ids)
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ContestUpdateFailed, "update contest tasks failed")
	}
	invalidate(ctx, s.scoreboard, contestID)
	logger.Info(ctx, "contest tasks replaced", zap.Int64("contest_id", contestID), zap.Int("tasks", len(ids)))
	return loadContest(ctxDB.ctx, s.contests, nil, contestID)
}

func (s *ClockService) requireTasks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	missing, err := s.tasks.MissingIDs(ctx, nil, ids)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "check tasks failed")
	}
	if len(missing) > 0 {
		return appErr.New(appErr.TaskNotFound).WithMessage("task not found").WithDetail("task_ids", missing)
	}
	return nil
}

func uniqueIDs(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, appErr.ValidationError("task_ids", "invalid")
		}
		if _, ok := seen[id]; ok {
			return nil, appErr.ValidationError("task_ids", "duplicate").WithDetail("task_id", id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
