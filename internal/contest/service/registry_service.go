package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eduoj/internal/common/db"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/repository"
	appErr "eduoj/pkg/errors"
	"eduoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const maxDeleteReasonLen = 1000

// RegistryConfig holds participant registry dependencies.
type RegistryConfig struct {
	Participants repository.ParticipantRepository
	Contests     repository.ContestRepository
	Scoreboard   Invalidator
	Timeouts     TimeoutConfig
	Now          func() time.Time
}

// Registry manages contest registrations, disqualification and penalties.
type Registry struct {
	participants repository.ParticipantRepository
	contests     repository.ContestRepository
	scoreboard   Invalidator
	timeouts     TimeoutConfig
	now          func() time.Time
}

// NewRegistry creates a participant registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Participants == nil {
		return nil, fmt.Errorf("participant repository is required")
	}
	if cfg.Contests == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	return &Registry{
		participants: cfg.Participants,
		contests:     cfg.Contests,
		scoreboard:   cfg.Scoreboard,
		timeouts:     cfg.Timeouts,
		now:          nowFunc(cfg.Now),
	}, nil
}

// Register joins userID to a contest. A live registration yields
// AlreadyRegistered; a disqualified one stays blocked.
func (r *Registry) Register(ctx context.Context, contestID, userID int64) (*model.Participant, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	ctxDB := withTimeout(ctx, r.timeouts.DB)
	defer ctxDB.cancel()

	contest, err := loadContest(ctxDB.ctx, r.contests, nil, contestID)
	if err != nil {
		return nil, err
	}
	if contest.PhaseAt(r.now()) == model.PhaseFinished {
		return nil, appErr.New(appErr.RegistrationClosed).WithMessage("contest has finished")
	}

	existing, err := r.participants.GetByContestUser(ctxDB.ctx, nil, contestID, userID)
	switch {
	case err == nil:
		return nil, registrationConflict(existing)
	case !errors.Is(err, repository.ErrParticipantNotFound):
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get participant failed")
	}

	p := &model.Participant{ContestID: contestID, UserID: userID}
	if _, err := r.participants.Create(ctxDB.ctx, nil, p); err != nil {
		if errors.Is(err, repository.ErrParticipantExists) {
			return nil, appErr.New(appErr.AlreadyRegistered).WithMessage("already registered")
		}
		return nil, appErr.Wrapf(err, appErr.RegistrationFailed, "register participant failed")
	}
	invalidate(ctx, r.scoreboard, contestID)
	logger.Info(ctx, "participant registered",
		zap.Int64("contest_id", contestID), zap.Int64("participant_id", p.ID))
	return p, nil
}

func registrationConflict(p *model.Participant) error {
	if p.Deleted {
		return appErr.New(appErr.ParticipantDisqualified).WithMessage("you are disqualified from this contest").
			WithDetail("participant_id", p.ID)
	}
	return appErr.New(appErr.AlreadyRegistered).WithMessage("already registered").
		WithDetail("participant_id", p.ID)
}

// Disqualify soft-deletes a participant. Only the contest owner or an admin
// may do it; repeating it keeps the first reason.
func (r *Registry) Disqualify(ctx context.Context, actor Actor, participantID int64, reason string) (*model.Participant, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErr.ValidationError("reason", "required")
	}
	if len(reason) > maxDeleteReasonLen {
		return nil, appErr.ValidationError("reason", "too_long")
	}
	ctxDB := withTimeout(ctx, r.timeouts.DB)
	defer ctxDB.cancel()

	p, err := r.Get(ctxDB.ctx, participantID)
	if err != nil {
		return nil, err
	}
	contest, err := loadContest(ctxDB.ctx, r.contests, nil, p.ContestID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(contest.OwnerID) {
		return nil, appErr.New(appErr.ContestAccessDenied).WithMessage("only the contest owner may disqualify participants")
	}

	changed, err := r.participants.SoftDelete(ctxDB.ctx, nil, participantID, reason)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "disqualify participant failed")
	}
	if changed {
		invalidate(ctx, r.scoreboard, p.ContestID)
		logger.Info(ctx, "participant disqualified",
			zap.Int64("contest_id", p.ContestID), zap.Int64("participant_id", p.ID), zap.Int64("by", actor.UserID))
	}
	return r.Get(ctxDB.ctx, participantID)
}

// AccruePenalty adds the contest-time cost of a submission made at at.
func (r *Registry) AccruePenalty(ctx context.Context, tx db.Transaction, p *model.Participant, contest *model.Contest, at time.Time) (int64, error) {
	minutes := contest.PenaltyMinutes(at)
	if minutes == 0 {
		return 0, nil
	}
	if err := r.participants.AddPenalty(ctx, tx, p.ID, minutes); err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return 0, appErr.New(appErr.ParticipantNotFound).WithMessage("participant not found")
		}
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "accrue penalty failed")
	}
	return minutes, nil
}

// Get loads a participant by id.
func (r *Registry) Get(ctx context.Context, participantID int64) (*model.Participant, error) {
	p, err := r.participants.GetByID(ctx, nil, participantID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil, appErr.New(appErr.ParticipantNotFound).WithMessage("participant not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get participant failed")
	}
	return p, nil
}

// GetForUser loads userID's registration in contestID, deleted or not.
func (r *Registry) GetForUser(ctx context.Context, contestID, userID int64) (*model.Participant, error) {
	p, err := r.participants.GetByContestUser(ctx, nil, contestID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil, appErr.New(appErr.NotRegistered).WithMessage("not registered for this contest")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get participant failed")
	}
	return p, nil
}

// RequireActive returns userID's live registration. Disqualified users get
// ParticipantDisqualified, which the HTTP layer turns into a redirect.
func (r *Registry) RequireActive(ctx context.Context, tx db.Transaction, contestID, userID int64) (*model.Participant, error) {
	p, err := r.participants.GetByContestUser(ctx, tx, contestID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil, appErr.New(appErr.NotRegistered).WithMessage("not registered for this contest")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get participant failed")
	}
	if p.Deleted {
		return nil, appErr.New(appErr.ParticipantDisqualified).WithMessage("you are disqualified from this contest").
			WithDetail("participant_id", p.ID)
	}
	return p, nil
}

func loadContest(ctx context.Context, repo repository.ContestRepository, tx db.Transaction, contestID int64) (*model.Contest, error) {
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	c, err := repo.GetByID(ctx, tx, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, appErr.New(appErr.ContestNotFound).WithMessage("contest not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	return c, nil
}
