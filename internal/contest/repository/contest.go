package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eduoj/internal/common/db"
	"eduoj/internal/contest/model"
)

var (
	ErrContestNotFound = errors.New("contest not found")
)

// ContestRepository persists contests and their ordered task sets.
type ContestRepository interface {
	Create(ctx context.Context, tx db.Transaction, contest *model.Contest) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error)
	// CompareAndSetStatus persists to only if the stored status is still from.
	CompareAndSetStatus(ctx context.Context, tx db.Transaction, contestID int64, from, to model.Phase) (bool, error)
	SetTasks(ctx context.Context, tx db.Transaction, contestID int64, taskIDs []int64) error
	ListTaskIDs(ctx context.Context, tx db.Transaction, contestID int64) ([]int64, error)
}

// SQLContestRepository implements ContestRepository.
type SQLContestRepository struct {
	db db.Database
}

// NewContestRepository creates a contest repository.
func NewContestRepository(database db.Database) *SQLContestRepository {
	return &SQLContestRepository{db: database}
}

// Create inserts the contest and its task list. Use a transaction to keep both atomic.
func (r *SQLContestRepository) Create(ctx context.Context, tx db.Transaction, c *model.Contest) (int64, error) {
	if c == nil {
		return 0, errors.New("contest is nil")
	}
	if c.OwnerID <= 0 {
		return 0, errors.New("ownerID is required")
	}
	ts := now()
	c.CreatedAt, c.UpdatedAt = ts, ts
	if c.Status == "" {
		c.Status = model.PhaseWaitForStart
	}
	id, err := db.InsertReturningID(ctx, db.GetQuerier(r.db, tx),
		`INSERT INTO contests (owner_id, course_id, title, description, start_time, duration_sec, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.OwnerID, nullableID(c.CourseID), c.Title, c.Description, c.StartTime.UTC(), int64(c.Duration/time.Second),
		string(c.Status), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("insert contest failed: %w", err)
	}
	c.ID = id
	if err := r.SetTasks(ctx, tx, id, c.TaskIDs); err != nil {
		return 0, err
	}
	return id, nil
}

// GetByID loads a contest with its task ids in order.
func (r *SQLContestRepository) GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error) {
	row := db.GetQuerier(r.db, tx).QueryRow(ctx,
		`SELECT id, owner_id, course_id, title, description, start_time, duration_sec, status, created_at, updated_at
		FROM contests WHERE id = ?`, contestID)
	c := &model.Contest{}
	var (
		courseID    sql.NullInt64
		durationSec int64
		status      string
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &courseID, &c.Title, &c.Description, &c.StartTime, &durationSec,
		&status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, fmt.Errorf("get contest failed: %w", err)
	}
	c.CourseID = idOrZero(courseID)
	c.Duration = time.Duration(durationSec) * time.Second
	c.Status = model.Phase(status)
	c.StartTime = c.StartTime.UTC()
	taskIDs, err := r.ListTaskIDs(ctx, tx, contestID)
	if err != nil {
		return nil, err
	}
	c.TaskIDs = taskIDs
	return c, nil
}

// CompareAndSetStatus is the single-writer guard for clock transitions: of
// any number of concurrent callers with the same from, one gets true.
func (r *SQLContestRepository) CompareAndSetStatus(ctx context.Context, tx db.Transaction, contestID int64, from, to model.Phase) (bool, error) {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE contests SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), now(), contestID, string(from))
	if err != nil {
		return false, fmt.Errorf("update contest status failed: %w", err)
	}
	return db.RequireOneRow(res)
}

// SetTasks replaces the contest's task list; position follows slice order.
func (r *SQLContestRepository) SetTasks(ctx context.Context, tx db.Transaction, contestID int64, taskIDs []int64) error {
	q := db.GetQuerier(r.db, tx)
	if _, err := q.Exec(ctx, "DELETE FROM contest_tasks WHERE contest_id = ?", contestID); err != nil {
		return fmt.Errorf("clear contest tasks failed: %w", err)
	}
	for pos, taskID := range taskIDs {
		if _, err := q.Exec(ctx, "INSERT INTO contest_tasks (contest_id, task_id, position) VALUES (?, ?, ?)",
			contestID, taskID, pos); err != nil {
			return fmt.Errorf("insert contest task failed: %w", err)
		}
	}
	return nil
}

// ListTaskIDs returns the contest's tasks in display order.
func (r *SQLContestRepository) ListTaskIDs(ctx context.Context, tx db.Transaction, contestID int64) ([]int64, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(ctx,
		"SELECT task_id FROM contest_tasks WHERE contest_id = ? ORDER BY position, task_id", contestID)
	if err != nil {
		return nil, fmt.Errorf("list contest tasks failed: %w", err)
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contest task failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
