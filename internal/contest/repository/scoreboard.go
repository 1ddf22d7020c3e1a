package repository

import (
	"context"
	"fmt"

	"eduoj/internal/common/db"
	"eduoj/internal/contest/model"
)

// ScoreboardRepository reads contest submissions in aggregate.
type ScoreboardRepository interface {
	CellStats(ctx context.Context, tx db.Transaction, contestID int64) ([]model.CellStat, error)
}

// SQLScoreboardRepository implements ScoreboardRepository with one grouped query.
type SQLScoreboardRepository struct {
	db db.Database
}

// NewScoreboardRepository creates a scoreboard repository.
func NewScoreboardRepository(database db.Database) *SQLScoreboardRepository {
	return &SQLScoreboardRepository{db: database}
}

// CellStats aggregates contestant submissions per (participant, task).
// Validation runs and submissions without a participant are excluded.
func (r *SQLScoreboardRepository) CellStats(ctx context.Context, tx db.Transaction, contestID int64) ([]model.CellStat, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(ctx,
		`SELECT participant_id, task_id, COUNT(*), COALESCE(MAX(points), 0),
			MAX(CASE WHEN verdict = ? THEN 1 ELSE 0 END)
		FROM submissions
		WHERE contest_id = ? AND participant_id IS NOT NULL AND event_type = ?
		GROUP BY participant_id, task_id`,
		string(model.VerdictCorrect), contestID, string(model.EventUserSolution))
	if err != nil {
		return nil, fmt.Errorf("aggregate submissions failed: %w", err)
	}
	defer rows.Close()
	out := make([]model.CellStat, 0)
	for rows.Next() {
		var (
			s      model.CellStat
			solved int64
		)
		if err := rows.Scan(&s.ParticipantID, &s.TaskID, &s.Attempts, &s.BestPoints, &solved); err != nil {
			return nil, fmt.Errorf("scan aggregate failed: %w", err)
		}
		s.Solved = solved > 0
		out = append(out, s)
	}
	return out, rows.Err()
}
