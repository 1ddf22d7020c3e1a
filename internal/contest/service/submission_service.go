package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"eduoj/internal/common/cache"
	"eduoj/internal/common/db"
	"eduoj/internal/common/metrics"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/repository"
	"eduoj/internal/language"
	appErr "eduoj/pkg/errors"
	"eduoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix  = "submit:idempotency:"
	rateUserKeyPrefix     = "submit:rate:user:"
	rateIPKeyPrefix       = "submit:rate:ip:"
	processingMarker      = "processing"
	defaultIdempotencyTTL = 10 * time.Minute
	defaultMaxCodeBytes   = 64 * 1024
)

// RateLimitConfig holds submission throttling settings.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// SubmissionConfig holds submission service dependencies and settings.
type SubmissionConfig struct {
	Provider    db.Provider
	Submissions repository.SubmissionRepository
	Artifacts   repository.ArtifactRepository
	Tasks       repository.TaskRepository
	Contests    repository.ContestRepository
	Store       *repository.ArtifactStore
	Cache       cache.Cache
	Languages   *language.Registry
	Registry    *Registry
	Dispatcher  *Dispatcher
	Scoreboard  Invalidator

	MaxCodeBytes   int
	IdempotencyTTL time.Duration
	RateLimit      RateLimitConfig
	Timeouts       TimeoutConfig
	Now            func() time.Time
}

// SubmissionService accepts code uploads and serves submissions back.
type SubmissionService struct {
	provider    db.Provider
	submissions repository.SubmissionRepository
	artifacts   repository.ArtifactRepository
	tasks       repository.TaskRepository
	contests    repository.ContestRepository
	store       *repository.ArtifactStore
	cache       cache.Cache
	languages   *language.Registry
	registry    *Registry
	dispatcher  *Dispatcher
	scoreboard  Invalidator

	maxCodeBytes   int
	idempotencyTTL time.Duration
	rateLimit      RateLimitConfig
	timeouts       TimeoutConfig
	now            func() time.Time
}

// SubmitInput describes an upload. ContestID selects the contest path;
// otherwise CourseID optionally ties the submission to a course.
type SubmitInput struct {
	UserID         int64
	TaskID         int64
	ContestID      int64
	CourseID       int64
	Language       string
	Filename       string
	Code           []byte
	IdempotencyKey string
	ClientIP       string
}

// NewSubmissionService creates a submission service.
func NewSubmissionService(cfg SubmissionConfig) (*SubmissionService, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("database provider is required")
	}
	if cfg.Submissions == nil || cfg.Artifacts == nil || cfg.Tasks == nil || cfg.Contests == nil {
		return nil, fmt.Errorf("submission, artifact, task and contest repositories are required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("participant registry is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	return &SubmissionService{
		provider:       cfg.Provider,
		submissions:    cfg.Submissions,
		artifacts:      cfg.Artifacts,
		tasks:          cfg.Tasks,
		contests:       cfg.Contests,
		store:          cfg.Store,
		cache:          cfg.Cache,
		languages:      cfg.Languages,
		registry:       cfg.Registry,
		dispatcher:     cfg.Dispatcher,
		scoreboard:     cfg.Scoreboard,
		maxCodeBytes:   cfg.MaxCodeBytes,
		idempotencyTTL: cfg.IdempotencyTTL,
		rateLimit:      cfg.RateLimit,
		timeouts:       cfg.Timeouts,
		now:            nowFunc(cfg.Now),
	}, nil
}

// Submit validates and stores an upload, charges the contest penalty and
// hands the submission to the dispatcher. Rejected uploads never create a
// row.
func (s *SubmissionService) Submit(ctx context.Context, input SubmitInput) (*model.Submission, error) {
	if input.UserID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if input.TaskID <= 0 {
		return nil, appErr.ValidationError("task_id", "required")
	}
	if strings.TrimSpace(input.Language) == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return nil, err
	}

	acquired, existing, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		id, convErr := strconv.ParseInt(existing, 10, 64)
		if convErr == nil {
			return s.load(ctx, id)
		}
	}
	submission, err := s.submit(ctx, input)
	if err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return nil, err
	}
	s.finalizeIdempotency(ctx, input.IdempotencyKey, strconv.FormatInt(submission.ID, 10), acquired)
	return submission, nil
}

func (s *SubmissionService) submit(ctx context.Context, input SubmitInput) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	var (
		contest     *model.Contest
		participant *model.Participant
		err         error
	)
	if input.ContestID > 0 {
		contest, participant, err = s.admitContestant(ctxDB.ctx, input)
		if err != nil {
			return nil, err
		}
	}
	task, err := s.loadTask(ctxDB.ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	if contest == nil && input.CourseID > 0 && (task.Course == nil || task.Course.CourseID != input.CourseID) {
		return nil, appErr.New(appErr.TaskAccessDenied).WithMessage("task does not belong to this course")
	}

	now := s.now()
	artifact, err := s.prepareArtifact(ctx, input.UserID, input.Language, input.Filename, input.Code, now)
	if err != nil {
		return nil, err
	}

	submission := model.NewSubmission(input.UserID, task.ID, 0, model.EventUserSolution, now)
	submission.Language = artifact.Language
	if contest != nil {
		submission.ContestID = contest.ID
		submission.ParticipantID = participant.ID
	} else {
		submission.CourseID = input.CourseID
	}
	var penalty int64
	err = db.WithTx(ctxDB.ctx, s.provider, nil, func(tx db.Transaction) error {
		if _, err := s.artifacts.Create(ctxDB.ctx, tx, artifact); err != nil {
			return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "store artifact failed")
		}
		submission.ArtifactID = artifact.ID
		if _, err := s.submissions.Create(ctxDB.ctx, tx, &submission); err != nil {
			return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
		}
		if contest == nil {
			return nil
		}
		penalty, err = s.registry.AccruePenalty(ctxDB.ctx, tx, participant, contest, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.SubmissionsCreated.WithLabelValues(string(submission.EventType), submission.Language).Inc()
	logger.Info(ctx, "submission created",
		zap.Int64("submission_id", submission.ID), zap.Int64("task_id", task.ID),
		zap.Int64("contest_id", submission.ContestID), zap.Int64("penalty", penalty))

	if contest != nil {
		invalidate(ctx, s.scoreboard, contest.ID)
	}
	return s.enqueue(ctx, &submission)
}

func (s *SubmissionService) enqueue(ctx context.Context, submission *model.Submission) (*model.Submission, error) {
	queued, err := s.dispatcher.Enqueue(ctx, submission.ID)
	if err != nil {
		logger.Error(ctx, "enqueue submission failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
		return submission, nil
	}
	return queued, nil
}

// admitContestant checks the contest is running, contains the task and that
// the user holds a live registration.
func (s *SubmissionService) admitContestant(ctx context.Context, input SubmitInput) (*model.Contest, *model.Participant, error) {
	contest, err := loadContest(ctx, s.contests, nil, input.ContestID)
	if err != nil {
		return nil, nil, err
	}
	switch contest.PhaseAt(s.now()) {
	case model.PhaseWaitForStart:
		return nil, nil, appErr.New(appErr.ContestNotStarted).WithMessage("contest has not started")
	case model.PhaseFinished:
		return nil, nil, appErr.New(appErr.ContestEnded).WithMessage("contest has ended")
	}
	if !contest.HasTask(input.TaskID) {
		return nil, nil, appErr.New(appErr.TaskNotInContest).WithMessage("task is not part of this contest")
	}
	participant, err := s.registry.RequireActive(ctx, nil, contest.ID, input.UserID)
	if err != nil {
		return nil, nil, err
	}
	return contest, participant, nil
}

// SubmitForValidation stores the task author's reference solution and
// dispatches it as an author-validation run.
func (s *SubmissionService) SubmitForValidation(ctx context.Context, authorID int64, task *model.Task, ref model.ReferenceSolution) (*model.Submission, error) {
	if task == nil || task.ID <= 0 {
		return nil, appErr.ValidationError("task_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	now := s.now()
	artifact, err := s.prepareArtifact(ctx, authorID, ref.Language, ref.Filename, []byte(ref.Code), now)
	if err != nil {
		return nil, err
	}
	submission := model.NewSubmission(authorID, task.ID, 0, model.EventAuthorValidation, now)
	submission.Language = artifact.Language
	if task.Course != nil {
		submission.CourseID = task.Course.CourseID
	}
	err = db.WithTx(ctxDB.ctx, s.provider, nil, func(tx db.Transaction) error {
		if _, err := s.artifacts.Create(ctxDB.ctx, tx, artifact); err != nil {
			return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "store artifact failed")
		}
		submission.ArtifactID = artifact.ID
		if _, err := s.submissions.Create(ctxDB.ctx, tx, &submission); err != nil {
			return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
		}
		if err := s.tasks.SetReference(ctxDB.ctx, tx, task.ID, artifact.ID); err != nil {
			return appErr.Wrapf(err, appErr.TaskUpdateFailed, "attach reference solution failed")
		}
		return nil
	})
	s.tasks.Invalidate(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	metrics.SubmissionsCreated.WithLabelValues(string(submission.EventType), submission.Language).Inc()
	logger.Info(ctx, "author validation submitted",
		zap.Int64("submission_id", submission.ID), zap.Int64("task_id", task.ID))
	return s.enqueue(ctx, &submission)
}

// prepareArtifact validates an upload and writes its bytes to object
// storage. Failures carry the verdict the upload would have received.
func (s *SubmissionService) prepareArtifact(ctx context.Context, authorID int64, langID, filename string, code []byte, now time.Time) (*model.CodeArtifact, error) {
	lang, ok := s.languages.Lookup(langID)
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", langID).
			WithDetail("supported", s.languages.IDs())
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = lang.SourceFile
	}
	if err := s.validateArtifact(lang, filename, code); err != nil {
		return nil, err
	}

	digest := repository.Digest(code)
	key := repository.ArtifactKey(now, digest, lang.Extension)
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.store.Put(ctxStorage.ctx, key, code); err != nil {
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "upload artifact failed")
	}
	return &model.CodeArtifact{
		AuthorID:  authorID,
		Language:  lang.ID,
		Filename:  filename,
		ObjectKey: key,
		Digest:    digest,
		SizeBytes: int64(len(code)),
		Code:      string(code),
		CreatedAt: now,
	}, nil
}

func (s *SubmissionService) validateArtifact(lang language.Spec, filename string, code []byte) error {
	switch {
	case len(code) == 0:
		return appErr.ValidationError("code", "required")
	case len(code) > s.maxCodeBytes:
		metrics.SubmissionsRejected.WithLabelValues(string(model.VerdictTooLarge)).Inc()
		return appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.maxCodeBytes).
			WithVerdict(string(model.VerdictTooLarge))
	case !utf8.Valid(code):
		metrics.SubmissionsRejected.WithLabelValues(string(model.VerdictWrongFormat)).Inc()
		return appErr.New(appErr.WrongFileFormat).WithMessage("source is not valid UTF-8 text").
			WithVerdict(string(model.VerdictWrongFormat))
	case !lang.MatchesFilename(filename):
		metrics.SubmissionsRejected.WithLabelValues(string(model.VerdictWrongFormat)).Inc()
		return appErr.Newf(appErr.WrongFileFormat, "%s sources must use the .%s extension", lang.Name, lang.Extension).
			WithVerdict(string(model.VerdictWrongFormat))
	}
	return nil
}

// Get returns a submission visible to actor: its author or staff.
func (s *SubmissionService) Get(ctx context.Context, actor Actor, submissionID int64) (*model.Submission, error) {
	submission, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.AuthorID != actor.UserID && !actor.IsStaff() {
		return nil, appErr.New(appErr.SubmissionAccessDenied).WithMessage("not your submission")
	}
	return submission, nil
}

// GetSource returns the submitted code. Only the author, the owner of the
// submission's contest and admins may read it.
func (s *SubmissionService) GetSource(ctx context.Context, actor Actor, submissionID int64) (*model.CodeArtifact, error) {
	submission, err := s.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if submission.AuthorID != actor.UserID && !actor.IsAdmin() {
		allowed := false
		if submission.ContestID > 0 {
			contest, err := loadContest(ctxDB.ctx, s.contests, nil, submission.ContestID)
			if err != nil {
				return nil, err
			}
			allowed = actor.Owns(contest.OwnerID)
		}
		if !allowed {
			return nil, appErr.New(appErr.SubmissionAccessDenied).WithMessage("source is not visible to you")
		}
	}

	artifact, err := s.artifacts.GetByID(ctxDB.ctx, nil, submission.ArtifactID)
	if err != nil {
		if errors.Is(err, repository.ErrArtifactNotFound) {
			return nil, appErr.New(appErr.ArtifactNotFound).WithMessage("code artifact not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get artifact failed")
	}
	if artifact.Code == "" {
		ctxStorage := withTimeout(ctx, s.timeouts.Storage)
		defer ctxStorage.cancel()
		data, err := s.store.Get(ctxStorage.ctx, artifact.ObjectKey)
		if err != nil {
			if errors.Is(err, repository.ErrArtifactNotFound) {
				return nil, appErr.New(appErr.ArtifactNotFound).WithMessage("code artifact not found")
			}
			return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "download artifact failed")
		}
		artifact.Code = string(data)
	}
	return artifact, nil
}

func (s *SubmissionService) loadTask(ctx context.Context, taskID int64) (*model.Task, error) {
	task, err := s.tasks.GetByID(ctx, nil, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, appErr.New(appErr.TaskNotFound).WithMessage("task not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get task failed")
	}
	return task, nil
}

func (s *SubmissionService) load(ctx context.Context, submissionID int64) (*model.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissions.GetByID(ctxDB.ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return submission, nil
}

func (s *SubmissionService) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.cache == nil {
		return false, "", nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *SubmissionService) finalizeIdempotency(ctx context.Context, key, submissionID string, acquired bool) {
	if !acquired {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, idempotencyKeyPrefix+strings.TrimSpace(key), submissionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmissionService) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	if !acquired {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, idempotencyKeyPrefix+strings.TrimSpace(key)); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmissionService) checkRateLimit(ctx context.Context, userID int64, clientIP string) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 && userID > 0 {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+strconv.FormatInt(userID, 10), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmissionService) checkRateCounter(ctx context.Context, key string, limit int) error {
	count, err := s.cache.IncrWindow(ctx, key, s.rateLimit.Window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if int(count) > limit {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}
