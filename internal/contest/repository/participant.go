package repository

import (
	"context"
	"errors"
	"fmt"

	"eduoj/internal/common/db"
	"eduoj/internal/contest/model"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrParticipantExists   = errors.New("participant already exists")
)

// ParticipantRepository persists contest registrations. Rows are never deleted.
type ParticipantRepository interface {
	Create(ctx context.Context, tx db.Transaction, p *model.Participant) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, participantID int64) (*model.Participant, error)
	GetByContestUser(ctx context.Context, tx db.Transaction, contestID, userID int64) (*model.Participant, error)
	AddPenalty(ctx context.Context, tx db.Transaction, participantID, minutes int64) error
	SoftDelete(ctx context.Context, tx db.Transaction, participantID int64, reason string) (bool, error)
	ListActive(ctx context.Context, tx db.Transaction, contestID int64) ([]model.Participant, error)
}

// SQLParticipantRepository implements ParticipantRepository.
type SQLParticipantRepository struct {
	db db.Database
}

// NewParticipantRepository creates a participant repository.
func NewParticipantRepository(database db.Database) *SQLParticipantRepository {
	return &SQLParticipantRepository{db: database}
}

const participantColumns = "id, contest_id, user_id, penalty, deleted, delete_reason, created_at, updated_at"

// Create inserts a registration. The (contest, user) unique key turns a
// concurrent duplicate into ErrParticipantExists.
func (r *SQLParticipantRepository) Create(ctx context.Context, tx db.Transaction, p *model.Participant) (int64, error) {
	if p == nil {
		return 0, errors.New("participant is nil")
	}
	ts := now()
	p.RegisteredAt, p.UpdatedAt = ts, ts
	id, err := db.InsertReturningID(ctx, db.GetQuerier(r.db, tx),
		`INSERT INTO contest_participants (contest_id, user_id, penalty, deleted, delete_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ContestID, p.UserID, p.Penalty, false, "", ts, ts)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return 0, ErrParticipantExists
		}
		return 0, fmt.Errorf("insert participant failed: %w", err)
	}
	p.ID = id
	return id, nil
}

// GetByID loads a participant, deleted or not.
func (r *SQLParticipantRepository) GetByID(ctx context.Context, tx db.Transaction, participantID int64) (*model.Participant, error) {
	return r.scanOne(db.GetQuerier(r.db, tx).QueryRow(ctx,
		"SELECT "+participantColumns+" FROM contest_participants WHERE id = ?", participantID))
}

// GetByContestUser loads the registration of userID in contestID.
func (r *SQLParticipantRepository) GetByContestUser(ctx context.Context, tx db.Transaction, contestID, userID int64) (*model.Participant, error) {
	return r.scanOne(db.GetQuerier(r.db, tx).QueryRow(ctx,
		"SELECT "+participantColumns+" FROM contest_participants WHERE contest_id = ? AND user_id = ?", contestID, userID))
}

func (r *SQLParticipantRepository) scanOne(row db.Row) (*model.Participant, error) {
	p := &model.Participant{}
	if err := row.Scan(&p.ID, &p.ContestID, &p.UserID, &p.Penalty, &p.Deleted, &p.DeleteReason,
		&p.RegisteredAt, &p.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("get participant failed: %w", err)
	}
	return p, nil
}

// AddPenalty increments the penalty in place, so concurrent submissions by
// the same participant never lose an update.
func (r *SQLParticipantRepository) AddPenalty(ctx context.Context, tx db.Transaction, participantID, minutes int64) error {
	if minutes < 0 {
		return errors.New("penalty increment must not be negative")
	}
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE contest_participants SET penalty = penalty + ?, updated_at = ? WHERE id = ?",
		minutes, now(), participantID)
	if err != nil {
		return fmt.Errorf("add penalty failed: %w", err)
	}
	ok, err := db.RequireOneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrParticipantNotFound
	}
	return nil
}

// SoftDelete disqualifies a live participant. It reports false if the
// participant was already deleted.
func (r *SQLParticipantRepository) SoftDelete(ctx context.Context, tx db.Transaction, participantID int64, reason string) (bool, error) {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE contest_participants SET deleted = ?, delete_reason = ?, updated_at = ? WHERE id = ? AND deleted = ?",
		true, reason, now(), participantID, false)
	if err != nil {
		return false, fmt.Errorf("disqualify participant failed: %w", err)
	}
	return db.RequireOneRow(res)
}

// ListActive returns live participants in registration order.
func (r *SQLParticipantRepository) ListActive(ctx context.Context, tx db.Transaction, contestID int64) ([]model.Participant, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(ctx,
		"SELECT "+participantColumns+" FROM contest_participants WHERE contest_id = ? AND deleted = ? ORDER BY created_at, id",
		contestID, false)
	if err != nil {
		return nil, fmt.Errorf("list participants failed: %w", err)
	}
	defer rows.Close()
	out := make([]model.Participant, 0)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.ContestID, &p.UserID, &p.Penalty, &p.Deleted, &p.DeleteReason,
			&p.RegisteredAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan participant failed: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
