package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleReport       = errors.New("stale grading report")
	ErrUngradable        = errors.New("task has no tests")
	ErrInvalidReport     = errors.New("invalid grading report")
)

// NoTestsText is stored as verdict_text on submissions for tasks without tests.
const NoTestsText = "task has no tests; nothing to grade"

// MaxScore is the best total a submission can reach on the given tests.
func MaxScore(mode GradingMode, tests []TestCase) int64 {
	if mode == GradingBinaryPerTest {
		return int64(len(tests))
	}
	var total int64
	for _, t := range tests {
		total += t.MaxPoints
	}
	return total
}

// Score summarises per-test results.
type Score struct {
	Passed    int
	Evaluated int
	Points    int64
}

// ScoreResults folds judge results into a score. Tests without a result count
// as not passed. A later result for the same index replaces an earlier one.
func ScoreResults(mode GradingMode, tests []TestCase, results []TestResult) (Score, error) {
	byIndex := make(map[int]TestResult, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(tests) {
			return Score{}, fmt.Errorf("%w: test index %d out of range", ErrInvalidReport, r.Index)
		}
		byIndex[r.Index] = r
	}

	var score Score
	for i, t := range tests {
		r, ok := byIndex[i]
		if !ok {
			continue
		}
		score.Evaluated++
		if r.Passed {
			score.Passed++
		}
		if mode == GradingPointsPerTest {
			score.Points += awarded(r, t.MaxPoints)
		}
	}

	switch mode {
	case GradingBinaryPerTest:
		score.Points = int64(score.Passed)
	case GradingBinary:
		if len(tests) > 0 && score.Passed == len(tests) {
			score.Points = MaxScore(mode, tests)
		}
	}
	return score, nil
}

func awarded(r TestResult, limit int64) int64 {
	if r.Points == nil {
		if r.Passed {
			return limit
		}
		return 0
	}
	return clamp(*r.Points, 0, limit)
}

// Verdict derives the outcome of a fully evaluated run. Binary grading has no
// partial credit.
func (s Score) Verdict(mode GradingMode, total int) Verdict {
	switch {
	case total > 0 && s.Passed == total:
		return VerdictCorrect
	case s.Passed == 0 || mode == GradingBinary:
		return VerdictWrongAnswer
	default:
		return VerdictPartial
	}
}

// ApplyReport computes the submission state after a judge report. It never
// mutates cur. A report for a queued submission implies the start transition
// the judge may not have sent separately.
func ApplyReport(cur Submission, r GradingReport, tests []TestCase, mode GradingMode) (Submission, error) {
	if r.Attempt != 0 && r.Attempt != cur.Attempt {
		return cur, fmt.Errorf("%w: attempt %d, current %d", ErrStaleReport, r.Attempt, cur.Attempt)
	}
	if r.TaskVersion != 0 && cur.TaskVersion != 0 && r.TaskVersion != cur.TaskVersion {
		return cur, fmt.Errorf("%w: task version %d, dispatched %d", ErrStaleReport, r.TaskVersion, cur.TaskVersion)
	}
	from := cur.Status
	if from == StatusQueued {
		from = StatusInProgress
	}
	if r.Status == StatusQueued || r.Status == StatusAwaitingCheck || !CanTransition(from, r.Status) {
		return cur, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, r.Status)
	}

	next := cur
	next.Status = r.Status
	next.VerdictText = r.VerdictText
	if r.CurrentTestIndex != nil {
		idx := *r.CurrentTestIndex
		if idx < 0 {
			return cur, fmt.Errorf("%w: negative test index", ErrInvalidReport)
		}
		if idx < cur.CurrentTestIndex {
			return cur, fmt.Errorf("%w: test index moved back from %d to %d", ErrInvalidReport, cur.CurrentTestIndex, idx)
		}
		next.CurrentTestIndex = idx
	}

	switch r.Status {
	case StatusInProgress:
		if r.Verdict != "" && r.Verdict != VerdictNone {
			return cur, fmt.Errorf("%w: verdict %s before grading finished", ErrInvalidReport, r.Verdict)
		}
		next.Verdict = VerdictNone
		if r.Points != nil && mode != GradingBinary {
			next.Points = clamp(*r.Points, 0, MaxScore(mode, tests))
		}
	case StatusCheckFailed:
		if !r.Verdict.IsFailure() {
			return cur, fmt.Errorf("%w: %s is not a failure verdict", ErrInvalidReport, r.Verdict)
		}
		next.Verdict = r.Verdict
		next.Points = 0
		if len(r.Tests) > 0 && mode != GradingBinary {
			score, err := ScoreResults(mode, tests, r.Tests)
			if err != nil {
				return cur, err
			}
			next.Points = score.Points
		}
	case StatusCheckSucceeded:
		if len(tests) == 0 {
			return cur, ErrUngradable
		}
		verdict, points, err := judge(r, tests, mode)
		if err != nil {
			return cur, err
		}
		next.Verdict = verdict
		next.Points = points
	}
	return next, nil
}

func judge(r GradingReport, tests []TestCase, mode GradingMode) (Verdict, int64, error) {
	if len(r.Tests) > 0 {
		score, err := ScoreResults(mode, tests, r.Tests)
		if err != nil {
			return "", 0, err
		}
		return score.Verdict(mode, len(tests)), score.Points, nil
	}

	if !r.Verdict.IsJudgement() {
		return "", 0, fmt.Errorf("%w: %s is not a judgement verdict", ErrInvalidReport, r.Verdict)
	}
	full := MaxScore(mode, tests)
	if mode == GradingBinary {
		if r.Verdict == VerdictCorrect {
			return VerdictCorrect, full, nil
		}
		return VerdictWrongAnswer, 0, nil
	}
	if r.Points == nil {
		if r.Verdict == VerdictCorrect {
			return VerdictCorrect, full, nil
		}
		return r.Verdict, 0, nil
	}
	return r.Verdict, clamp(*r.Points, 0, full), nil
}

// ResetForRejudge clears the outcome of the previous attempt. Points are
// overwritten by the next attempt, never accumulated.
func ResetForRejudge(s Submission) Submission {
	s.Status = StatusAwaitingCheck
	s.Verdict = VerdictNone
	s.VerdictText = ""
	s.Points = 0
	s.CurrentTestIndex = 0
	return s
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
