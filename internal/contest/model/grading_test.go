package model

import (
	"errors"
	"testing"
)

func int64p(v int64) *int64 { return &v }
func intp(v int) *int { return &v }

func tests(points ...int64) []TestCase {
	out := make([]TestCase, len(points))
	for i, p := range points {
		out[i] = TestCase{ID: int64(i + 1), MaxPoints: p}
	}
	return out
}

func inProgress(attempt int) Submission {
	return Submission{ID: 1, Status: StatusInProgress, Verdict: VerdictNone, Attempt: attempt}
}

func TestApplyReportBinaryPerTestPartial(t *testing.T) {
	report := GradingReport{
		Status:  StatusCheckSucceeded,
		Verdict: VerdictWrongAnswer,
		Tests: []TestResult{
			{Index: 0, Passed: true},
			{Index: 1, Passed: true},
			{Index: 2, Passed: false, Verdict: VerdictWrongAnswer},
		},
	}
	got, err := ApplyReport(inProgress(1), report, tests(1, 1, 1), GradingBinaryPerTest)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Status != StatusCheckSucceeded || got.Verdict != VerdictPartial || got.Points != 2 {
		t.Fatalf("expected check-succeeded/partial/2, got %s/%s/%d", got.Status, got.Verdict, got.Points)
	}
}

func TestApplyReportBinaryHasNoPartialCredit(t *testing.T) {
	cases := []struct {
		name    string
		results []TestResult
		verdict Verdict
		points  int64
	}{
		{"all passed", []TestResult{{Index: 0, Passed: true}, {Index: 1, Passed: true}}, VerdictCorrect, 30},
		{"one failed", []TestResult{{Index: 0, Passed: true}, {Index: 1}}, VerdictWrongAnswer, 0},
		{"none passed", []TestResult{{Index: 0}, {Index: 1}}, VerdictWrongAnswer, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ApplyReport(inProgress(1), GradingReport{Status: StatusCheckSucceeded, Tests: tc.results}, tests(10, 20), GradingBinary)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if got.Verdict != tc.verdict || got.Points != tc.points {
				t.Fatalf("expected %s/%d, got %s/%d", tc.verdict, tc.points, got.Verdict, got.Points)
			}
		})
	}
}

func TestApplyReportBinaryPointsAreAllOrNothing(t *testing.T) {
	ts := tests(40, 60)
	for _, v := range []Verdict{VerdictCorrect, VerdictWrongAnswer, VerdictPartial} {
		for _, reported := range []int64{-5, 0, 37, 100, 500} {
			got, err := ApplyReport(inProgress(1), GradingReport{Status: StatusCheckSucceeded, Verdict: v, Points: int64p(reported)}, ts, GradingBinary)
			if err != nil {
				t.Fatalf("apply %s/%d: %v", v, reported, err)
			}
			if got.Points != 0 && got.Points != 100 {
				t.Fatalf("binary points must be 0 or 100, got %d for %s/%d", got.Points, v, reported)
			}
			if got.Verdict == VerdictPartial {
				t.Fatal("binary grading produced partial")
			}
		}
	}
}

func TestApplyReportPointsPerTestCapsEachTest(t *testing.T) {
	report := GradingReport{
		Status: StatusCheckSucceeded,
		Tests: []TestResult{
			{Index: 0, Passed: true, Points: int64p(50)},
			{Index: 1, Passed: true},
			{Index: 2, Passed: false, Points: int64p(-3)},
		},
	}
	got, err := ApplyReport(inProgress(1), report, tests(10, 5, 7), GradingPointsPerTest)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Points != 15 || got.Verdict != VerdictPartial {
		t.Fatalf("expected partial/15, got %s/%d", got.Verdict, got.Points)
	}
	if got.Points > MaxScore(GradingPointsPerTest, tests(10, 5, 7)) {
		t.Fatal("points exceed the task maximum")
	}
}

func TestApplyReportPointsPerTestClampsReportedTotal(t *testing.T) {
	got, err := ApplyReport(inProgress(1), GradingReport{Status: StatusCheckSucceeded, Verdict: VerdictPartial, Points: int64p(99)}, tests(3, 4), GradingPointsPerTest)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Points != 7 {
		t.Fatalf("expected clamp to 7, got %d", got.Points)
	}
}

func TestApplyReportZeroTestsNeverCorrect(t *testing.T) {
	_, err := ApplyReport(inProgress(1), GradingReport{Status: StatusCheckSucceeded, Verdict: VerdictCorrect}, nil, GradingBinary)
	if !errors.Is(err, ErrUngradable) {
		t.Fatalf("expected ErrUngradable, got %v", err)
	}
	if s := (Score{}).Verdict(GradingBinary, 0); s == VerdictCorrect {
		t.Fatal("empty score must not be correct")
	}
}

func TestApplyReportRejectsStaleAttempt(t *testing.T) {
	cur := inProgress(2)
	_, err := ApplyReport(cur, GradingReport{Attempt: 1, Status: StatusCheckSucceeded, Verdict: VerdictCorrect}, tests(1), GradingBinary)
	if !errors.Is(err, ErrStaleReport) {
		t.Fatalf("expected stale report, got %v", err)
	}
	if _, err := ApplyReport(cur, GradingReport{Attempt: 2, Status: StatusCheckSucceeded, Verdict: VerdictCorrect}, tests(1), GradingBinary); err != nil {
		t.Fatalf("expected current attempt to apply, got %v", err)
	}
}

func TestApplyReportRejectsOtherTaskVersion(t *testing.T) {
	cur := inProgress(1)
	cur.TaskVersion = 3
	report := GradingReport{Attempt: 1, TaskVersion: 2, Status: StatusCheckSucceeded, Verdict: VerdictCorrect}
	if _, err := ApplyReport(cur, report, tests(1), GradingBinary); !errors.Is(err, ErrStaleReport) {
		t.Fatalf("expected stale report, got %v", err)
	}
	report.TaskVersion = 3
	if _, err := ApplyReport(cur, report, tests(1), GradingBinary); err != nil {
		t.Fatalf("expected matching version to apply, got %v", err)
	}
	report.TaskVersion = 0
	if _, err := ApplyReport(cur, report, tests(1), GradingBinary); err != nil {
		t.Fatalf("expected unversioned report to apply, got %v", err)
	}
}

func TestGradedAgainst(t *testing.T) {
	s := Submission{TaskVersion: 2}
	if !s.GradedAgainst(2) || s.GradedAgainst(3) {
		t.Fatal("dispatched version must match exactly")
	}
	if !(Submission{}).GradedAgainst(5) {
		t.Fatal("unrecorded version must match any task version")
	}
}

func TestApplyReportImpliesStartFromQueued(t *testing.T) {
	cur := Submission{Status: StatusQueued, Verdict: VerdictNone, Attempt: 1}
	got, err := ApplyReport(cur, GradingReport{Status: StatusInProgress, CurrentTestIndex: intp(0)}, tests(1, 1), GradingBinaryPerTest)
	if err != nil || got.Status != StatusInProgress {
		t.Fatalf("expected in-progress, got %s err=%v", got.Status, err)
	}
	got, err = ApplyReport(cur, GradingReport{Status: StatusCheckFailed, Verdict: VerdictBuildFailed, VerdictText: "main.cpp:1: error"}, tests(1), GradingBinary)
	if err != nil || got.Status != StatusCheckFailed || got.VerdictText != "main.cpp:1: error" {
		t.Fatalf("expected build failure from queued, got %+v err=%v", got, err)
	}
}

func TestApplyReportTestIndexIsMonotonic(t *testing.T) {
	cur := inProgress(1)
	cur.CurrentTestIndex = 3
	_, err := ApplyReport(cur, GradingReport{Status: StatusInProgress, CurrentTestIndex: intp(2)}, tests(1, 1, 1, 1, 1), GradingBinaryPerTest)
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("expected invalid report, got %v", err)
	}
	got, err := ApplyReport(cur, GradingReport{Status: StatusInProgress, CurrentTestIndex: intp(4), Points: int64p(3)}, tests(1, 1, 1, 1, 1), GradingBinaryPerTest)
	if err != nil || got.CurrentTestIndex != 4 || got.Points != 3 {
		t.Fatalf("expected index 4 with 3 points, got %+v err=%v", got, err)
	}
}

func TestApplyReportVerdictMustMatchStatus(t *testing.T) {
	cases := []struct {
		name   string
		report GradingReport
	}{
		{"failed with judgement verdict", GradingReport{Status: StatusCheckFailed, Verdict: VerdictWrongAnswer}},
		{"succeeded with failure verdict", GradingReport{Status: StatusCheckSucceeded, Verdict: VerdictTimeLimit}},
		{"succeeded without verdict", GradingReport{Status: StatusCheckSucceeded, Verdict: VerdictNone}},
		{"progress with verdict", GradingReport{Status: StatusInProgress, Verdict: VerdictCorrect}},
		{"result index out of range", GradingReport{Status: StatusCheckSucceeded, Tests: []TestResult{{Index: 5, Passed: true}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ApplyReport(inProgress(1), tc.report, tests(1, 1), GradingBinaryPerTest); !errors.Is(err, ErrInvalidReport) {
				t.Fatalf("expected invalid report, got %v", err)
			}
		})
	}
}

func TestApplyReportRejectsTransitionsOutOfTerminal(t *testing.T) {
	done := Submission{Status: StatusCheckSucceeded, Verdict: VerdictCorrect, Points: 1, Attempt: 1}
	_, err := ApplyReport(done, GradingReport{Status: StatusInProgress}, tests(1), GradingBinary)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	waiting := Submission{Status: StatusAwaitingCheck, Verdict: VerdictNone}
	if _, err := ApplyReport(waiting, GradingReport{Status: StatusInProgress}, tests(1), GradingBinary); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition before dispatch, got %v", err)
	}
}

func TestSucceededAlwaysHasVerdict(t *testing.T) {
	modes := []GradingMode{GradingBinary, GradingBinaryPerTest, GradingPointsPerTest}
	results := [][]TestResult{
		nil,
		{{Index: 0}},
		{{Index: 0, Passed: true}},
		{{Index: 0, Passed: true}, {Index: 1}},
	}
	for _, mode := range modes {
		for _, rs := range results {
			got, err := ApplyReport(inProgress(1), GradingReport{Status: StatusCheckSucceeded, Verdict: VerdictCorrect, Tests: rs}, tests(2, 3), mode)
			if err != nil {
				t.Fatalf("apply %s: %v", mode, err)
			}
			if got.Verdict == VerdictNone || !got.Verdict.IsJudgement() {
				t.Fatalf("%s: succeeded with verdict %q", mode, got.Verdict)
			}
		}
	}
}

func TestResetForRejudgeOverwritesOutcome(t *testing.T) {
	s := Submission{Status: StatusCheckSucceeded, Verdict: VerdictCorrect, VerdictText: "ok", Points: 9, CurrentTestIndex: 3, Attempt: 1}
	got := ResetForRejudge(s)
	if got.Status != StatusAwaitingCheck || got.Verdict != VerdictNone || got.VerdictText != "" || got.Points != 0 || got.CurrentTestIndex != 0 {
		t.Fatalf("unexpected reset state: %+v", got)
	}
	if got.Attempt != 1 {
		t.Fatal("reset must not touch the attempt counter")
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusAwaitingCheck, StatusQueued},
		{StatusQueued, StatusInProgress},
		{StatusInProgress, StatusInProgress},
		{StatusInProgress, StatusCheckFailed},
		{StatusInProgress, StatusCheckSucceeded},
		{StatusCheckSucceeded, StatusAwaitingCheck},
		{StatusCheckFailed, StatusAwaitingCheck},
	}
	for _, edge := range allowed {
		if !CanTransition(edge[0], edge[1]) {
			t.Fatalf("expected %s -> %s", edge[0], edge[1])
		}
	}
	if CanTransition(StatusQueued, StatusQueued) || CanTransition(StatusAwaitingCheck, StatusCheckSucceeded) {
		t.Fatal("unexpected edge allowed")
	}
}
