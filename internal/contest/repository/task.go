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
	defaultTaskCacheTTL      = 30 * time.Minute
	defaultTaskCacheEmptyTTL = 5 * time.Minute
	taskCacheKeyPrefix       = "task:"
	taskTestsCacheKeyPrefix  = "task:tests:"
)

var (
	ErrTaskNotFound = errors.New("task not found")
)

// TaskRepository persists tasks and their append-only test lists.
type TaskRepository interface {
	Create(ctx context.Context, tx db.Transaction, task *model.Task) (int64, error)
	Update(ctx context.Context, tx db.Transaction, task *model.Task) error
	GetByID(ctx context.Context, tx db.Transaction, taskID int64) (*model.Task, error)
	SetValidated(ctx context.Context, tx db.Transaction, taskID int64, validated bool) error
	SetReference(ctx context.Context, tx db.Transaction, taskID, artifactID int64) error
	AddTests(ctx context.Context, tx db.Transaction, taskID int64, specs []model.TestCaseSpec) ([]model.TestCase, error)
	ListTests(ctx context.Context, tx db.Transaction, taskID int64) ([]model.TestCase, error)
	MissingIDs(ctx context.Context, tx db.Transaction, taskIDs []int64) ([]int64, error)
	Invalidate(ctx context.Context, taskID int64)
}

// SQLTaskRepository implements TaskRepository with cache-aside reads.
type SQLTaskRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewTaskRepository creates a task repository with default cache TTLs.
func NewTaskRepository(database db.Database, cacheClient cache.Cache) *SQLTaskRepository {
	return NewTaskRepositoryWithTTL(database, cacheClient, defaultTaskCacheTTL, defaultTaskCacheEmptyTTL)
}

// NewTaskRepositoryWithTTL creates a task repository with custom TTLs.
func NewTaskRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *SQLTaskRepository {
	if ttl <= 0 {
		ttl = defaultTaskCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultTaskCacheEmptyTTL
	}
	return &SQLTaskRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

const taskColumns = `id, owner_id, title, statement, input_example, output_example, time_limit_sec,
	memory_limit_mb, answer_type, execute_type, grading, version, is_validated, reference_artifact_id,
	course_id, difficulty, visible, created_at, updated_at`

// Create inserts task with version 1 and returns its id.
func (r *SQLTaskRepository) Create(ctx context.Context, tx db.Transaction, task *model.Task) (int64, error) {
	if task == nil {
		return 0, errors.New("task is nil")
	}
	if task.OwnerID <= 0 {
		return 0, errors.New("ownerID is required")
	}
	ts := now()
	task.Version = 1
	task.CreatedAt, task.UpdatedAt = ts, ts
	courseID, difficulty, visible := courseColumns(task.Course)

	query := `INSERT INTO tasks (owner_id, title, statement, input_example, output_example, time_limit_sec,
		memory_limit_mb, answer_type, execute_type, grading, version, is_validated, reference_artifact_id,
		course_id, difficulty, visible, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	id, err := db.InsertReturningID(ctx, db.GetQuerier(r.db, tx), query,
		task.OwnerID, task.Title, task.Statement, task.InputExample, task.OutputExample, task.TimeLimitSec,
		task.MemoryLimitMB, string(task.AnswerType), string(task.ExecuteType), string(task.Grading), task.Version,
		task.IsValidated, nullableID(task.ReferenceArtifactID), courseID, difficulty, visible, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("insert task failed: %w", err)
	}
	task.ID = id
	return id, nil
}

// Update replaces the description and limits and bumps the version. Tests and
// existing submissions are left alone.
func (r *SQLTaskRepository) Update(ctx context.Context, tx db.Transaction, task *model.Task) error {
	if task == nil || task.ID <= 0 {
		return errors.New("task id is required")
	}
	courseID, difficulty, visible := courseColumns(task.Course)
	ts := now()
	query := `UPDATE tasks SET title = ?, statement = ?, input_example = ?, output_example = ?, time_limit_sec = ?,
		memory_limit_mb = ?, answer_type = ?, execute_type = ?, grading = ?, version = version + 1,
		course_id = ?, difficulty = ?, visible = ?, updated_at = ?
		WHERE id = ?`
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		task.Title, task.Statement, task.InputExample, task.OutputExample, task.TimeLimitSec,
		task.MemoryLimitMB, string(task.AnswerType), string(task.ExecuteType), string(task.Grading),
		courseID, difficulty, visible, ts, task.ID)
	if err != nil {
		return fmt.Errorf("update task failed: %w", err)
	}
	ok, err := db.RequireOneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskNotFound
	}
	task.Version++
	task.UpdatedAt = ts
	r.invalidate(ctx, taskCacheKey(task.ID))
	return nil
}

// GetByID loads a task; outside a transaction it goes through the cache.
func (r *SQLTaskRepository) GetByID(ctx context.Context, tx db.Transaction, taskID int64) (*model.Task, error) {
	if taskID <= 0 {
		return nil, ErrTaskNotFound
	}
	if r.cache == nil || tx != nil {
		return r.getByIDFromDB(ctx, tx, taskID)
	}
	task, err := cache.GetWithCached[*model.Task](
		ctx,
		r.cache,
		taskCacheKey(taskID),
		r.ttl,
		r.emptyTTL,
		func(t *model.Task) bool { return t == nil },
		marshalJSON[*model.Task],
		unmarshalJSON[*model.Task],
		func(ctx context.Context) (*model.Task, error) {
			task, err := r.getByIDFromDB(ctx, nil, taskID)
			if errors.Is(err, ErrTaskNotFound) {
				return nil, nil
			}
			return task, err
		},
	)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (r *SQLTaskRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, taskID int64) (*model.Task, error) {
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", taskID)
	task := &model.Task{}
	var (
		answerType, executeType, grading string
		referenceID, courseID            sql.NullInt64
		difficulty                       int
		visible                          bool
	)
	if err := row.Scan(
		&task.ID, &task.OwnerID, &task.Title, &task.Statement, &task.InputExample, &task.OutputExample,
		&task.TimeLimitSec, &task.MemoryLimitMB, &answerType, &executeType, &grading, &task.Version,
		&task.IsValidated, &referenceID, &courseID, &difficulty, &visible, &task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task failed: %w", err)
	}
	task.AnswerType = model.AnswerType(answerType)
	task.ExecuteType = model.ExecuteType(executeType)
	task.Grading = model.GradingMode(grading)
	task.ReferenceArtifactID = idOrZero(referenceID)
	if courseID.Valid {
		task.Course = &model.CourseBinding{CourseID: courseID.Int64, Difficulty: difficulty, Visible: visible}
	}
	return task, nil
}

// SetValidated records the outcome of the latest author validation.
func (r *SQLTaskRepository) SetValidated(ctx context.Context, tx db.Transaction, taskID int64, validated bool) error {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE tasks SET is_validated = ?, updated_at = ? WHERE id = ?", validated, now(), taskID)
	if err != nil {
		return fmt.Errorf("update task validation failed: %w", err)
	}
	ok, err := db.RequireOneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskNotFound
	}
	r.invalidate(ctx, taskCacheKey(taskID))
	return nil
}

// SetReference points the task at a new reference artifact and clears the
// validated flag until the artifact has been graded.
func (r *SQLTaskRepository) SetReference(ctx context.Context, tx db.Transaction, taskID, artifactID int64) error {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE tasks SET reference_artifact_id = ?, is_validated = ?, updated_at = ? WHERE id = ?",
		artifactID, false, now(), taskID)
	if err != nil {
		return fmt.Errorf("update task reference failed: %w", err)
	}
	ok, err := db.RequireOneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskNotFound
	}
	r.invalidate(ctx, taskCacheKey(taskID))
	return nil
}

// AddTests appends tests in order and bumps the task version, so attempts
// dispatched against the old test set can be told apart. Insertion ids
// define test order.
func (r *SQLTaskRepository) AddTests(ctx context.Context, tx db.Transaction, taskID int64, specs []model.TestCaseSpec) ([]model.TestCase, error) {
	if taskID <= 0 {
		return nil, ErrTaskNotFound
	}
	q := db.GetQuerier(r.db, tx)
	out := make([]model.TestCase, 0, len(specs))
	ts := now()
	for _, spec := range specs {
		tc := model.TestCase{TaskID: taskID, Content: spec.Content, Answer: spec.Answer, MaxPoints: spec.Points()}
		id, err := db.InsertReturningID(ctx, q,
			"INSERT INTO task_tests (task_id, content, answer, max_points, created_at) VALUES (?, ?, ?, ?, ?)",
			taskID, tc.Content, tc.Answer, tc.MaxPoints, ts)
		if err != nil {
			return nil, fmt.Errorf("insert test failed: %w", err)
		}
		tc.ID = id
		out = append(out, tc)
	}
	if len(out) == 0 {
		return out, nil
	}
	if _, err := q.Exec(ctx, "UPDATE tasks SET version = version + 1, updated_at = ? WHERE id = ?", ts, taskID); err != nil {
		return nil, fmt.Errorf("bump task version failed: %w", err)
	}
	r.invalidate(ctx, taskCacheKey(taskID), taskTestsCacheKey(taskID))
	return out, nil
}

// ListTests returns the task's tests ordered by id.
func (r *SQLTaskRepository) ListTests(ctx context.Context, tx db.Transaction, taskID int64) ([]model.TestCase, error) {
	if r.cache == nil || tx != nil {
		return r.listTestsFromDB(ctx, tx, taskID)
	}
	// An empty list is a legal value, so misses are never null-cached here.
	return cache.GetWithCached[[]model.TestCase](
		ctx,
		r.cache,
		taskTestsCacheKey(taskID),
		r.ttl,
		r.emptyTTL,
		func([]model.TestCase) bool { return false },
		marshalJSON[[]model.TestCase],
		unmarshalJSON[[]model.TestCase],
		func(ctx context.Context) ([]model.TestCase, error) {
			return r.listTestsFromDB(ctx, nil, taskID)
		},
	)
}

func (r *SQLTaskRepository) listTestsFromDB(ctx context.Context, tx db.Transaction, taskID int64) ([]model.TestCase, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(ctx,
		"SELECT id, task_id, content, answer, max_points FROM task_tests WHERE task_id = ? ORDER BY id", taskID)
	if err != nil {
		return nil, fmt.Errorf("list tests failed: %w", err)
	}
	defer rows.Close()
	out := make([]model.TestCase, 0)
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.TaskID, &tc.Content, &tc.Answer, &tc.MaxPoints); err != nil {
			return nil, fmt.Errorf("scan test failed: %w", err)
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tests failed: %w", err)
	}
	return out, nil
}

// MissingIDs returns the ids in taskIDs that have no task row.
func (r *SQLTaskRepository) MissingIDs(ctx context.Context, tx db.Transaction, taskIDs []int64) ([]int64, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}
	rows, err := db.GetQuerier(r.db, tx).Query(ctx,
		"SELECT id FROM tasks WHERE id IN ("+placeholders(len(taskIDs))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("check tasks failed: %w", err)
	}
	defer rows.Close()
	found := make(map[int64]bool, len(taskIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id failed: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range taskIDs {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Invalidate drops cached copies of a task and its tests. Callers writing in a
// transaction call it again after commit.
func (r *SQLTaskRepository) Invalidate(ctx context.Context, taskID int64) {
	r.invalidate(ctx, taskCacheKey(taskID), taskTestsCacheKey(taskID))
}

func (r *SQLTaskRepository) invalidate(ctx context.Context, keys ...string) {
	_ = cache.Invalidate(ctx, r.cache, keys...)
}

func courseColumns(b *model.CourseBinding) (interface{}, int, bool) {
	if b == nil {
		return nil, 0, false
	}
	return nullableID(b.CourseID), b.Difficulty, b.Visible
}

func taskCacheKey(id int64) string {
	return idKey(taskCacheKeyPrefix, id)
}

func taskTestsCacheKey(id int64) string {
	return idKey(taskTestsCacheKeyPrefix, id)
}
