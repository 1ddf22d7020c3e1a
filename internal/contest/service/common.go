package service

import (
	"context"
	"time"

	"eduoj/internal/contest/model"
)

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Role   string
}

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// IsStaff reports whether the actor may author tasks and run contests.
func (a Actor) IsStaff() bool {
	return a.Role == RoleTeacher || a.Role == RoleAdmin
}

// IsAdmin reports whether the actor bypasses ownership checks.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Owns reports whether the actor may manage a resource owned by ownerID.
func (a Actor) Owns(ownerID int64) bool {
	return a.IsAdmin() || (a.IsStaff() && a.UserID == ownerID)
}

// Invalidator drops derived views of a contest after its inputs change.
type Invalidator interface {
	Invalidate(ctx context.Context, contestID int64)
}

// FinalStatusHandler reacts to a submission's outcome being set by the judge
// or cleared by a rejudge.
type FinalStatusHandler interface {
	HandleFinalStatus(ctx context.Context, submission model.Submission) error
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}

func nowFunc(f func() time.Time) func() time.Time {
	if f != nil {
		return f
	}
	return func() time.Time { return time.Now().UTC() }
}

func invalidate(ctx context.Context, inv Invalidator, contestID int64) {
	if inv != nil && contestID > 0 {
		inv.Invalidate(ctx, contestID)
	}
}
