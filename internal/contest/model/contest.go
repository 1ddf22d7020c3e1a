package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is a contest lifecycle stage derived from the clock.
type Phase string

const (
	PhaseWaitForStart Phase = "wait-for-start"
	PhaseActive       Phase = "active"
	PhaseFinished     Phase = "finished"
)

// PhaseAt is total and monotone in now for a fixed start and duration.
// Both boundaries belong to the active phase.
func PhaseAt(now, start time.Time, duration time.Duration) Phase {
	if now.Before(start) {
		return PhaseWaitForStart
	}
	if now.After(start.Add(duration)) {
		return PhaseFinished
	}
	return PhaseActive
}

// Contest is a timed competition over an ordered task set. Status caches the
// last phase persisted by a clock check.
type Contest struct {
	ID          int64         `json:"id"`
	OwnerID     int64         `json:"owner_id"`
	CourseID    int64         `json:"course_id,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"-"`
	Status      Phase         `json:"status"`
	TaskIDs     []int64       `json:"task_ids"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// EndTime is the last instant of the active phase.
func (c Contest) EndTime() time.Time {
	return c.StartTime.Add(c.Duration)
}

// MarshalJSON adds the duration in minutes and the end time.
func (c Contest) MarshalJSON() ([]byte, error) {
	type plain Contest
	return json.Marshal(struct {
		plain
		DurationMinutes int64     `json:"duration_minutes"`
		EndTime         time.Time `json:"end_time"`
	}{plain(c), int64(c.Duration / time.Minute), c.EndTime()})
}

// PhaseAt evaluates the contest clock at now.
func (c Contest) PhaseAt(now time.Time) Phase {
	return PhaseAt(now, c.StartTime, c.Duration)
}

// Remaining is the time left until the end, never negative.
func (c Contest) Remaining(now time.Time) time.Duration {
	left := c.EndTime().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// PenaltyMinutes is the cost of a submission made at the given instant: whole
// minutes since the start. Submissions before the start cost nothing and the
// value freezes at the end of the contest.
func (c Contest) PenaltyMinutes(at time.Time) int64 {
	if end := c.EndTime(); at.After(end) {
		at = end
	}
	elapsed := at.Sub(c.StartTime)
	if elapsed <= 0 {
		return 0
	}
	return int64(elapsed / time.Minute)
}

// HasTask reports whether taskID belongs to the contest.
func (c Contest) HasTask(taskID int64) bool {
	for _, id := range c.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// ContestSpec is the input for creating a contest.
type ContestSpec struct {
	Title           string    `json:"title" validate:"required,max=255"`
	Description     string    `json:"description"`
	CourseID        int64     `json:"course_id" validate:"min=0"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=1,max=43200"`
	TaskIDs         []int64   `json:"task_ids" validate:"dive,gt=0"`
}

const (
	EventContestStarted = "contest.started"
	EventContestEnded   = "contest.ended"

	// TimesUp replaces the countdown once a contest has ended.
	TimesUp = "time's up"
)

// TransitionEvent is emitted once per persisted phase change.
type TransitionEvent struct {
	Type      string    `json:"type"`
	ContestID int64     `json:"contest_id"`
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	At        time.Time `json:"at"`
	Message   string    `json:"message"`
	Countdown string    `json:"countdown"`
}

// NewTransitionEvent builds the notification for a change into to. Only
// changes into active or finished produce one.
func NewTransitionEvent(c Contest, from, to Phase, now time.Time) *TransitionEvent {
	ev := &TransitionEvent{ContestID: c.ID, From: from, To: to, At: now}
	switch to {
	case PhaseActive:
		ev.Type = EventContestStarted
		ev.Message = fmt.Sprintf("Contest %q has started", c.Title)
		ev.Countdown = FormatCountdown(c.Remaining(now))
	case PhaseFinished:
		ev.Type = EventContestEnded
		ev.Message = fmt.Sprintf("Contest %q has ended", c.Title)
		ev.Countdown = TimesUp
	default:
		return nil
	}
	return ev
}

// FormatCountdown renders d as HH:MM:SS, rounding down to whole seconds.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

// ClockReading is the answer to a clock check. CountdownSeconds is set only
// while the contest is active.
type ClockReading struct {
	Phase            Phase            `json:"phase"`
	CountdownSeconds *int64           `json:"countdown"`
	Countdown        string           `json:"countdown_text,omitempty"`
	EndTime          time.Time        `json:"end_time"`
	TransitionEvent  *TransitionEvent `json:"transition_event"`
}
