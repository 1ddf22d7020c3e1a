package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eduoj/internal/common/cache"
	"eduoj/internal/common/db"
	"eduoj/internal/contest/model"
)

const (
	defaultSubmissionCacheTTL      = 10 * time.Minute
	defaultSubmissionCacheEmptyTTL = time.Minute
	submissionCacheKeyPrefix       = "submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionRepository persists submissions. Every state change is a
// conditional update on the state it was computed from.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error)
	// MarkQueued moves awaiting-check to queued and starts a new attempt
	// graded against taskVersion.
	MarkQueued(ctx context.Context, tx db.Transaction, submissionID int64, taskVersion int) (int, bool, error)
	// ResetForRejudge clears the outcome if the status is one of from.
	ResetForRejudge(ctx context.Context, tx db.Transaction, submissionID int64, from []model.Status) (bool, error)
	// SaveOutcome writes next if the row still matches prev.
	SaveOutcome(ctx context.Context, tx db.Transaction, prev, next model.Submission) (bool, error)
	// NoteUngradable records why an awaiting submission was not dispatched.
	NoteUngradable(ctx context.Context, tx db.Transaction, submissionID int64, text string) error
	Invalidate(ctx context.Context, submissionID int64)
}

// SQLSubmissionRepository implements SubmissionRepository.
type SQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) *SQLSubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *SQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &SQLSubmissionRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

const submissionColumns = `s.id, s.author_id, s.task_id, s.artifact_id, a.language, s.contest_id, s.participant_id,
	s.course_id, s.event_type, s.status, s.verdict, s.verdict_text, s.points, s.current_test_index, s.attempt,
	s.task_version, s.created_at, s.updated_at`

// Create inserts a submission and sets its id.
func (r *SQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, s *model.Submission) (int64, error) {
	if s == nil {
		return 0, errors.New("submission is nil")
	}
	if s.AuthorID <= 0 {
		return 0, errors.New("authorID is required")
	}
	if s.TaskID <= 0 {
		return 0, errors.New("taskID is required")
	}
	if s.ArtifactID <= 0 {
		return 0, errors.New("artifactID is required")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}
	s.UpdatedAt = s.CreatedAt
	id, err := db.InsertReturningID(ctx, db.GetQuerier(r.db, tx),
		`INSERT INTO submissions (author_id, task_id, artifact_id, contest_id, participant_id, course_id, event_type,
		status, verdict, verdict_text, points, current_test_index, attempt, task_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.AuthorID, s.TaskID, s.ArtifactID, nullableID(s.ContestID), nullableID(s.ParticipantID), nullableID(s.CourseID),
		string(s.EventType), string(s.Status), string(s.Verdict), s.VerdictText, s.Points, s.CurrentTestIndex,
		s.Attempt, s.TaskVersion, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert submission failed: %w", err)
	}
	s.ID = id
	return id, nil
}

// GetByID loads a submission. Reads inside a transaction bypass the cache so
// state machine decisions always see the row.
func (r *SQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	if submissionID <= 0 {
		return nil, ErrSubmissionNotFound
	}
	if r.cache == nil || tx != nil {
		return r.getByIDFromDB(ctx, tx, submissionID)
	}
	s, err := cache.GetWithCached[*model.Submission](
		ctx,
		r.cache,
		submissionCacheKey(submissionID),
		r.ttl,
		r.emptyTTL,
		func(s *model.Submission) bool { return s == nil },
		marshalJSON[*model.Submission],
		unmarshalJSON[*model.Submission],
		func(ctx context.Context) (*model.Submission, error) {
			s, err := r.getByIDFromDB(ctx, nil, submissionID)
			if errors.Is(err, ErrSubmissionNotFound) {
				return nil, nil
			}
			return s, err
		},
	)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSubmissionNotFound
	}
	return s, nil
}

func (r *SQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	row := db.GetQuerier(r.db, tx).QueryRow(ctx,
		"SELECT "+submissionColumns+" FROM submissions s JOIN code_artifacts a ON a.id = s.artifact_id WHERE s.id = ?",
		submissionID)
	s := &model.Submission{}
	var (
		contestID, participantID, courseID sql.NullInt64
		eventType, status, verdict         string
	)
	if err := row.Scan(
		&s.ID, &s.AuthorID, &s.TaskID, &s.ArtifactID, &s.Language, &contestID, &participantID, &courseID,
		&eventType, &status, &verdict, &s.VerdictText, &s.Points, &s.CurrentTestIndex, &s.Attempt,
		&s.TaskVersion, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("get submission failed: %w", err)
	}
	s.ContestID = idOrZero(contestID)
	s.ParticipantID = idOrZero(participantID)
	s.CourseID = idOrZero(courseID)
	s.EventType = model.EventType(eventType)
	s.Status = model.Status(status)
	s.Verdict = model.Verdict(verdict)
	return s, nil
}

// MarkQueued returns the new attempt number, or ok=false when the submission
// was not awaiting a check.
func (r *SQLSubmissionRepository) MarkQueued(ctx context.Context, tx db.Transaction, submissionID int64, taskVersion int) (int, bool, error) {
	q := db.GetQuerier(r.db, tx)
	res, err := q.Exec(ctx,
		"UPDATE submissions SET status = ?, attempt = attempt + 1, task_version = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(model.StatusQueued), taskVersion, now(), submissionID, string(model.StatusAwaitingCheck))
	if err != nil {
		return 0, false, fmt.Errorf("queue submission failed: %w", err)
	}
	ok, err := db.RequireOneRow(res)
	if err != nil || !ok {
		return 0, false, err
	}
	r.Invalidate(ctx, submissionID)
	var attempt int
	if err := q.QueryRow(ctx, "SELECT attempt FROM submissions WHERE id = ?", submissionID).Scan(&attempt); err != nil {
		return 0, false, fmt.Errorf("read attempt failed: %w", err)
	}
	return attempt, true, nil
}

// ResetForRejudge puts a submission back to awaiting-check with no outcome.
func (r *SQLSubmissionRepository) ResetForRejudge(ctx context.Context, tx db.Transaction, submissionID int64, from []model.Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []interface{}{
		string(model.StatusAwaitingCheck), string(model.VerdictNone), "", 0, 0, now(), submissionID,
	}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		`UPDATE submissions SET status = ?, verdict = ?, verdict_text = ?, points = ?, current_test_index = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("reset submission failed: %w", err)
	}
	ok, err := db.RequireOneRow(res)
	if ok {
		r.Invalidate(ctx, submissionID)
	}
	return ok, err
}

// SaveOutcome applies a judge report. The row must still be at prev's status,
// attempt and test index, so concurrent reports and rejudges cannot interleave.
func (r *SQLSubmissionRepository) SaveOutcome(ctx context.Context, tx db.Transaction, prev, next model.Submission) (bool, error) {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		`UPDATE submissions SET status = ?, verdict = ?, verdict_text = ?, points = ?, current_test_index = ?, updated_at = ?
		WHERE id = ? AND status = ? AND attempt = ? AND current_test_index = ?`,
		string(next.Status), string(next.Verdict), next.VerdictText, next.Points, next.CurrentTestIndex, now(),
		prev.ID, string(prev.Status), prev.Attempt, prev.CurrentTestIndex)
	if err != nil {
		return false, fmt.Errorf("save outcome failed: %w", err)
	}
	ok, err := db.RequireOneRow(res)
	if ok {
		r.Invalidate(ctx, prev.ID)
	}
	return ok, err
}

// NoteUngradable sets verdict_text on a submission still awaiting a check.
func (r *SQLSubmissionRepository) NoteUngradable(ctx context.Context, tx db.Transaction, submissionID int64, text string) error {
	_, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE submissions SET verdict_text = ?, updated_at = ? WHERE id = ? AND status = ?",
		text, now(), submissionID, string(model.StatusAwaitingCheck))
	if err != nil {
		return fmt.Errorf("note ungradable submission failed: %w", err)
	}
	r.Invalidate(ctx, submissionID)
	return nil
}

// Invalidate drops the cached copy of a submission.
func (r *SQLSubmissionRepository) Invalidate(ctx context.Context, submissionID int64) {
	_ = cache.Invalidate(ctx, r.cache, submissionCacheKey(submissionID))
}

func submissionCacheKey(id int64) string {
	return idKey(submissionCacheKeyPrefix, id)
}
