package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"eduoj/internal/common/db"
	"eduoj/internal/common/metrics"
	"eduoj/internal/common/mq"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/repository"
	"eduoj/internal/language"
	appErr "eduoj/pkg/errors"
	"eduoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPublishAttempts  = 4
	defaultPublishBaseDelay = 200 * time.Millisecond
	defaultPublishMaxDelay  = 5 * time.Second
	ingestCASAttempts       = 3
)

// PublishRetryConfig controls retries while handing jobs to the queue.
type PublishRetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
}

func (c *PublishRetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultPublishAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultPublishBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultPublishMaxDelay
	}
}

// DispatcherConfig holds grading dispatch dependencies.
type DispatcherConfig struct {
	Provider    db.Provider
	Submissions repository.SubmissionRepository
	Tasks       repository.TaskRepository
	Artifacts   repository.ArtifactRepository
	Store       *repository.ArtifactStore
	Languages   *language.Registry
	Publisher   JobPublisher
	Retry       PublishRetryConfig
	Timeouts    TimeoutConfig
	Now         func() time.Time
}

// Dispatcher moves submissions between the database and the judge: it
// enqueues jobs, resets submissions for rejudge and applies judge reports.
type Dispatcher struct {
	provider    db.Provider
	submissions repository.SubmissionRepository
	tasks       repository.TaskRepository
	artifacts   repository.ArtifactRepository
	store       *repository.ArtifactStore
	languages   *language.Registry
	publisher   JobPublisher
	retry       PublishRetryConfig
	timeouts    TimeoutConfig
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) bool

	mu       sync.RWMutex
	handlers []FinalStatusHandler
}

// NewDispatcher creates a grading dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("database provider is required")
	}
	if cfg.Submissions == nil || cfg.Tasks == nil || cfg.Artifacts == nil {
		return nil, fmt.Errorf("submission, task and artifact repositories are required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("job publisher is required")
	}
	cfg.Retry.applyDefaults()
	return &Dispatcher{
		provider:    cfg.Provider,
		submissions: cfg.Submissions,
		tasks:       cfg.Tasks,
		artifacts:   cfg.Artifacts,
		store:       cfg.Store,
		languages:   cfg.Languages,
		publisher:   cfg.Publisher,
		retry:       cfg.Retry,
		timeouts:    cfg.Timeouts,
		now:         nowFunc(cfg.Now),
		sleep:       sleepCtx,
	}, nil
}

// AddHandler registers h to run after a submission reaches a terminal status.
func (d *Dispatcher) AddHandler(h FinalStatusHandler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// jobInputs is everything a judge job needs besides the submission row.
type jobInputs struct {
	task     *model.Task
	tests    []model.TestCase
	artifact *model.CodeArtifact
	lang     language.Spec
	commands language.Commands
}

func (d *Dispatcher) loadJobInputs(ctx context.Context, s *model.Submission) (*jobInputs, error) {
	task, err := d.tasks.GetByID(ctx, nil, s.TaskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, appErr.New(appErr.TaskNotFound).WithMessage("task not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get task failed")
	}
	tests, err := d.tasks.ListTests(ctx, nil, s.TaskID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list tests failed")
	}
	artifact, err := d.artifacts.GetByID(ctx, nil, s.ArtifactID)
	if err != nil {
		if errors.Is(err, repository.ErrArtifactNotFound) {
			return nil, appErr.New(appErr.ArtifactNotFound).WithMessage("code artifact not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get artifact failed")
	}
	lang, ok := d.languages.Lookup(artifact.Language)
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", artifact.Language)
	}
	commands, err := d.languages.Commands(lang.ID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LanguageNotSupported, "expand language commands failed")
	}
	return &jobInputs{task: task, tests: tests, artifact: artifact, lang: lang, commands: commands}, nil
}

// Enqueue accepts an awaiting-check submission for grading. Tasks without
// tests leave the submission awaiting a check with an explanatory text.
// When the queue stays unreachable the submission remains queued for a
// forced rejudge.
func (d *Dispatcher) Enqueue(ctx context.Context, submissionID int64) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, d.timeouts.DB)
	defer ctxDB.cancel()

	s, err := d.load(ctxDB.ctx, submissionID)
	if err != nil {
		return nil, err
	}
	in, err := d.loadJobInputs(ctxDB.ctx, s)
	if err != nil {
		return nil, err
	}
	if len(in.tests) == 0 {
		return d.leaveUngradable(ctx, s)
	}

	attempt, ok, err := d.submissions.MarkQueued(ctxDB.ctx, nil, submissionID, in.task.Version)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "queue submission failed")
	}
	if !ok {
		return nil, appErr.New(appErr.InvalidStatusTransition).
			WithMessage("submission is not awaiting a check").WithDetail("status", string(s.Status))
	}
	return d.dispatch(ctx, s, in, attempt)
}

// Rejudge resets a graded submission and queues it again. A forced rejudge
// also takes submissions stuck in queued or in-progress, and submissions
// left awaiting a check by a task without tests or a failed enqueue.
func (d *Dispatcher) Rejudge(ctx context.Context, actor Actor, submissionID int64, force bool) (*model.Submission, error) {
	if !actor.IsStaff() {
		return nil, appErr.New(appErr.SubmissionAccessDenied).WithMessage("only teachers may rejudge submissions")
	}
	if force && !actor.IsAdmin() {
		return nil, appErr.New(appErr.SubmissionAccessDenied).WithMessage("only admins may force a rejudge")
	}
	ctxDB := withTimeout(ctx, d.timeouts.DB)
	defer ctxDB.cancel()

	s, err := d.load(ctxDB.ctx, submissionID)
	if err != nil {
		return nil, err
	}
	in, err := d.loadJobInputs(ctxDB.ctx, s)
	if err != nil {
		return nil, err
	}

	var attempt int
	err = db.WithTx(ctxDB.ctx, d.provider, nil, func(tx db.Transaction) error {
		reset, err := d.submissions.ResetForRejudge(ctxDB.ctx, tx, submissionID, model.RejudgeFrom(force))
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "reset submission failed")
		}
		if !reset {
			cur, err := d.submissions.GetByID(ctxDB.ctx, tx, submissionID)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
			}
			return appErr.New(appErr.RejudgeConflict).
				WithMessage(fmt.Sprintf("submission is %s and cannot be rejudged", cur.Status)).
				WithDetail("status", string(cur.Status))
		}
		if len(in.tests) == 0 {
			if err := d.submissions.NoteUngradable(ctxDB.ctx, tx, submissionID, model.NoTestsText); err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
			}
			return nil
		}
		var queued bool
		attempt, queued, err = d.submissions.MarkQueued(ctxDB.ctx, tx, submissionID, in.task.Version)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "queue submission failed")
		}
		if !queued {
			return appErr.New(appErr.RejudgeConflict).WithMessage("submission changed during rejudge")
		}
		return nil
	})
	d.submissions.Invalidate(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "submission reset for rejudge",
		zap.Int64("submission_id", submissionID), zap.Int64("by", actor.UserID), zap.Bool("force", force))
	d.notify(ctx, model.ResetForRejudge(*s))

	if len(in.tests) == 0 {
		return d.load(ctxDB.ctx, submissionID)
	}
	return d.dispatch(ctx, s, in, attempt)
}

func (d *Dispatcher) leaveUngradable(ctx context.Context, s *model.Submission) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, d.timeouts.DB)
	defer ctxDB.cancel()
	if err := d.submissions.NoteUngradable(ctxDB.ctx, nil, s.ID, model.NoTestsText); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
	}
	logger.Warn(ctx, "submission left awaiting check: task has no tests",
		zap.Int64("submission_id", s.ID), zap.Int64("task_id", s.TaskID))
	return d.load(ctxDB.ctx, s.ID)
}

func (d *Dispatcher) dispatch(ctx context.Context, s *model.Submission, in *jobInputs, attempt int) (*model.Submission, error) {
	job := d.buildJob(s, in, attempt)
	if err := d.publishWithRetry(ctx, job); err != nil {
		metrics.DispatchPublishFailures.Inc()
		logger.Error(ctx, "judge job left queued after publish retries",
			zap.Int64("submission_id", s.ID), zap.Int("attempt", attempt), zap.Error(err))
	} else {
		logger.Info(ctx, "submission queued for grading",
			zap.Int64("submission_id", s.ID), zap.Int("attempt", attempt), zap.Int("tests", len(in.tests)))
	}
	ctxDB := withTimeout(ctx, d.timeouts.DB)
	defer ctxDB.cancel()
	return d.load(ctxDB.ctx, s.ID)
}

func (d *Dispatcher) buildJob(s *model.Submission, in *jobInputs, attempt int) model.JudgeJob {
	tests := make([]model.JobTest, len(in.tests))
	for i, t := range in.tests {
		tests[i] = model.JobTest{Index: i, ID: t.ID, Input: t.Content, Answer: t.Answer, MaxPoints: t.MaxPoints}
	}
	job := model.JudgeJob{
		SubmissionID:  s.ID,
		Attempt:       attempt,
		TaskID:        in.task.ID,
		TaskVersion:   in.task.Version,
		EventType:     s.EventType,
		Language:      in.lang.ID,
		Commands:      in.commands,
		SourceFile:    in.lang.SourceFile,
		SourceKey:     in.artifact.ObjectKey,
		SourceDigest:  in.artifact.Digest,
		TimeLimitMs:   int64(in.task.TimeLimitSec) * 1000,
		MemoryLimitMB: in.task.MemoryLimitMB,
		AnswerType:    in.task.AnswerType,
		ExecuteType:   in.task.ExecuteType,
		Grading:       in.task.Grading,
		Tests:         tests,
		EnqueuedAt:    d.now(),
	}
	if d.store != nil {
		job.SourceBucket = d.store.Bucket()
	}
	return job
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, job model.JudgeJob) error {
	var lastErr error
	for attempt := 0; attempt < d.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.DispatchPublishRetries.Inc()
			delay := ComputeBackoff(attempt-1, d.retry.BaseDelay, d.retry.MaxDelay)
			logger.Warn(ctx, "retrying judge job publish",
				zap.Int64("submission_id", job.SubmissionID), zap.Int("retry", attempt),
				zap.Duration("delay", delay), zap.Error(lastErr))
			if !d.sleep(ctx, delay) {
				return ctx.Err()
			}
		}
		ctxMQ := withTimeout(ctx, d.timeouts.MQ)
		lastErr = d.publisher.PublishJob(ctxMQ.ctx, job)
		ctxMQ.cancel()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// ComputeBackoff returns the delay before retry number retryCount: base
// doubled per retry and capped at maxDelay.
func ComputeBackoff(retryCount int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 0 {
		if maxDelay > 0 && base > maxDelay {
			return maxDelay
		}
		return base
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
		if maxDelay > 0 && delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Ingest applies a judge report to a submission. A lost compare-and-swap is
// retried against the fresh row; the report itself decides whether it still
// applies. Reports for an attempt dispatched before the task's tests changed
// are dropped and the submission is graded again against the current tests.
func (d *Dispatcher) Ingest(ctx context.Context, submissionID int64, report model.GradingReport) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, d.timeouts.DB)
	defer ctxDB.cancel()

	for i := 0; i < ingestCASAttempts; i++ {
		d.submissions.Invalidate(ctxDB.ctx, submissionID)
		cur, err := d.load(ctxDB.ctx, submissionID)
		if err != nil {
			return nil, err
		}
		task, err := d.tasks.GetByID(ctxDB.ctx, nil, cur.TaskID)
		if err != nil {
			if errors.Is(err, repository.ErrTaskNotFound) {
				return nil, appErr.New(appErr.TaskNotFound).WithMessage("task not found")
			}
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "get task failed")
		}
		tests, err := d.tasks.ListTests(ctxDB.ctx, nil, cur.TaskID)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "list tests failed")
		}

		if outdated(cur, report, task.Version) {
			requeued, err := d.requeueOutdated(ctx, cur)
			if err != nil {
				return nil, err
			}
			if !requeued {
				continue
			}
			metrics.StaleReports.Inc()
			return nil, appErr.New(appErr.StaleGradingReport).
				WithMessage("task tests changed during grading, submission requeued").
				WithDetail("task_version", task.Version)
		}

		next, err := model.ApplyReport(*cur, report, tests, task.Grading)
		if err != nil {
			return nil, reportError(ctx, cur, report, err)
		}
		saved, err := d.submissions.SaveOutcome(ctxDB.ctx, nil, *cur, next)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "save grading outcome failed")
		}
		if !saved {
			continue
		}

		if next.Status.Terminal() {
			metrics.VerdictsIngested.WithLabelValues(string(next.Status), string(next.Verdict)).Inc()
			logger.Info(ctx, "submission graded",
				zap.Int64("submission_id", next.ID), zap.String("status", string(next.Status)),
				zap.String("verdict", string(next.Verdict)), zap.Int64("points", next.Points),
				zap.Int("attempt", next.Attempt))
			d.notify(ctx, next)
		} else {
			logger.Debug(ctx, "grading progress",
				zap.Int64("submission_id", next.ID), zap.Int("test_index", next.CurrentTestIndex))
		}
		return &next, nil
	}
	return nil, appErr.New(appErr.Conflict).WithMessage("submission changed concurrently, retry the report")
}

// outdated reports whether report belongs to the running attempt of cur but
// that attempt was dispatched against an older version of the task.
func outdated(cur *model.Submission, report model.GradingReport, taskVersion int) bool {
	if cur.Status != model.StatusQueued && cur.Status != model.StatusInProgress {
		return false
	}
	if report.Attempt != 0 && report.Attempt != cur.Attempt {
		return false
	}
	return !cur.GradedAgainst(taskVersion)
}

// requeueOutdated starts a new attempt for cur against the current tests. It
// returns false when the submission moved on concurrently.
func (d *Dispatcher) requeueOutdated(ctx context.Context, cur *model.Submission) (bool, error) {
	ctxDB := withTimeout(ctx, d.timeouts.DB)
	defer ctxDB.cancel()

	in, err := d.loadJobInputs(ctxDB.ctx, cur)
	if err != nil {
		return false, err
	}
	var attempt int
	lost := errors.New("submission changed during requeue")
	err = db.WithTx(ctxDB.ctx, d.provider, nil, func(tx db.Transaction) error {
		reset, err := d.submissions.ResetForRejudge(ctxDB.ctx, tx, cur.ID,
			[]model.Status{model.StatusQueued, model.StatusInProgress})
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "reset submission failed")
		}
		if !reset {
			return lost
		}
		if len(in.tests) == 0 {
			if err := d.submissions.NoteUngradable(ctxDB.ctx, tx, cur.ID, model.NoTestsText); err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
			}
			return nil
		}
		var queued bool
		attempt, queued, err = d.submissions.MarkQueued(ctxDB.ctx, tx, cur.ID, in.task.Version)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "queue submission failed")
		}
		if !queued {
			return lost
		}
		return nil
	})
	d.submissions.Invalidate(ctx, cur.ID)
	if errors.Is(err, lost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logger.Warn(ctx, "task tests changed during grading, submission requeued",
		zap.Int64("submission_id", cur.ID), zap.Int("dispatched_version", cur.TaskVersion),
		zap.Int("task_version", in.task.Version))
	if len(in.tests) > 0 {
		if _, err := d.dispatch(ctx, cur, in, attempt); err != nil {
			return false, err
		}
	}
	return true, nil
}

func reportError(ctx context.Context, cur *model.Submission, report model.GradingReport, err error) error {
	fields := []zap.Field{
		zap.Int64("submission_id", cur.ID), zap.String("status", string(cur.Status)),
		zap.String("reported", string(report.Status)), zap.Int("attempt", report.Attempt), zap.Error(err),
	}
	switch {
	case errors.Is(err, model.ErrStaleReport):
		metrics.StaleReports.Inc()
		logger.Info(ctx, "stale grading report dropped", fields...)
		return appErr.Wrap(err, appErr.StaleGradingReport).WithMessage(err.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		logger.Warn(ctx, "grading report rejected", fields...)
		return appErr.Wrap(err, appErr.InvalidStatusTransition).WithMessage(err.Error())
	case errors.Is(err, model.ErrUngradable):
		logger.Warn(ctx, "grading report for task without tests", fields...)
		return appErr.Wrap(err, appErr.UngradableTask).WithMessage(err.Error())
	case errors.Is(err, model.ErrInvalidReport):
		return appErr.Wrap(err, appErr.InvalidParams).WithMessage(err.Error())
	default:
		return appErr.Wrapf(err, appErr.InternalServerError, "apply grading report failed")
	}
}

func (d *Dispatcher) notify(ctx context.Context, s model.Submission) {
	d.mu.RLock()
	handlers := append([]FinalStatusHandler(nil), d.handlers...)
	d.mu.RUnlock()
	for _, h := range handlers {
		if err := h.HandleFinalStatus(ctx, s); err != nil {
			logger.Error(ctx, "final status handler failed", zap.Int64("submission_id", s.ID), zap.Error(err))
		}
	}
}

// HandleResultMessage consumes a judge.result message. Reports that can
// never apply are acknowledged; infrastructure errors are returned so the
// consumer retries.
func (d *Dispatcher) HandleResultMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	var result model.ResultMessage
	if err := json.Unmarshal(msg.Body, &result); err != nil {
		logger.Warn(ctx, "invalid judge result payload", zap.String("message_id", msg.ID), zap.Error(err))
		return mq.Permanent(fmt.Errorf("decode judge result failed: %w", err))
	}
	if result.SubmissionID <= 0 {
		logger.Warn(ctx, "judge result without submission id", zap.String("message_id", msg.ID))
		return mq.Permanent(errors.New("judge result without submission id"))
	}
	_, err := d.Ingest(ctx, result.SubmissionID, result.GradingReport)
	if err == nil {
		return nil
	}
	switch appErr.GetCode(err) {
	case appErr.StaleGradingReport, appErr.InvalidStatusTransition, appErr.UngradableTask,
		appErr.InvalidParams, appErr.SubmissionNotFound, appErr.TaskNotFound:
		logger.Warn(ctx, "judge result acknowledged without effect",
			zap.Int64("submission_id", result.SubmissionID), zap.Error(err))
		return nil
	}
	return err
}

func (d *Dispatcher) load(ctx context.Context, submissionID int64) (*model.Submission, error) {
	s, err := d.submissions.GetByID(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return s, nil
}
