package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"eduoj/internal/common/mq"
	"eduoj/internal/contest/model"
	"eduoj/internal/contest/service"
	appErr "eduoj/pkg/errors"
)

func TestBinaryPerTestPartialCredit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinaryPerTest, 1, 1, 1)

	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, 0))
	mustNoError(t, err, "submit")
	if sub.Status != model.StatusQueued {
		t.Fatalf("expected queued, got %s", sub.Status)
	}

	graded, err := h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Attempt: sub.Attempt,
		Status:  model.StatusCheckSucceeded,
		Verdict: model.VerdictWrongAnswer,
		Tests: []model.TestResult{
			{Index: 0, Passed: true},
			{Index: 1, Passed: true},
			{Index: 2, Passed: false, Verdict: model.VerdictWrongAnswer},
		},
	})
	mustNoError(t, err, "ingest")
	if graded.Status != model.StatusCheckSucceeded || graded.Verdict != model.VerdictPartial || graded.Points != 2 {
		t.Fatalf("unexpected outcome: %s %s %d", graded.Status, graded.Verdict, graded.Points)
	}

	stored, err := h.submissions.Get(ctx, student, sub.ID)
	mustNoError(t, err, "get submission")
	if stored.Points != graded.Points || stored.Verdict != model.VerdictPartial {
		t.Fatalf("stored outcome differs: %d %s", stored.Points, stored.Verdict)
	}
}

func TestIngestProgressAndFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingPointsPerTest, 10, 20, 30)
	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, 0))
	mustNoError(t, err, "submit")

	progress, err := h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Status: model.StatusInProgress, CurrentTestIndex: intp(1), Points: int64p(10),
	})
	mustNoError(t, err, "ingest progress")
	if progress.Status != model.StatusInProgress || progress.CurrentTestIndex != 1 || progress.Points != 10 {
		t.Fatalf("unexpected progress: %s test=%d points=%d", progress.Status, progress.CurrentTestIndex, progress.Points)
	}

	_, err = h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{Status: model.StatusInProgress, CurrentTestIndex: intp(0)})
	expectCode(t, err, appErr.InvalidParams)

	failed, err := h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Status: model.StatusCheckFailed, Verdict: model.VerdictTimeLimit, VerdictText: "test 3: 1.02s",
		CurrentTestIndex: intp(2),
		Tests: []model.TestResult{
			{Index: 0, Passed: true},
			{Index: 1, Passed: true, Points: int64p(15)},
			{Index: 2, Passed: false, Verdict: model.VerdictTimeLimit},
		},
	})
	mustNoError(t, err, "ingest failure")
	if failed.Status != model.StatusCheckFailed || failed.Verdict != model.VerdictTimeLimit || failed.Points != 25 {
		t.Fatalf("unexpected failure outcome: %s %s %d", failed.Status, failed.Verdict, failed.Points)
	}

	// Terminal submissions need a rejudge first.
	_, err = h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{Status: model.StatusCheckSucceeded, Verdict: model.VerdictCorrect})
	expectCode(t, err, appErr.InvalidStatusTransition)

	_, err = h.dispatcher.Ingest(ctx, 404, model.GradingReport{Status: model.StatusInProgress})
	expectCode(t, err, appErr.SubmissionNotFound)
}

func TestRejudgeRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary, 5)
	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, 0))
	mustNoError(t, err, "submit")

	_, err = h.dispatcher.Rejudge(ctx, teacher, sub.ID, false)
	expectCode(t, err, appErr.RejudgeConflict)
	if status := appErr.GetCode(err).HTTPStatus(); status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}

	_, err = h.dispatcher.Rejudge(ctx, student, sub.ID, false)
	expectCode(t, err, appErr.SubmissionAccessDenied)
	_, err = h.dispatcher.Rejudge(ctx, teacher, sub.ID, true)
	expectCode(t, err, appErr.SubmissionAccessDenied)

	forced, err := h.dispatcher.Rejudge(ctx, admin, sub.ID, true)
	mustNoError(t, err, "forced rejudge")
	if forced.Status != model.StatusQueued || forced.Attempt != 2 {
		t.Fatalf("expected queued attempt 2, got %s attempt %d", forced.Status, forced.Attempt)
	}
	if n := h.producer.count(jobTopic); n != 2 {
		t.Fatalf("expected 2 jobs, got %d", n)
	}

	_, err = h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Attempt: 1, Status: model.StatusCheckSucceeded, Verdict: model.VerdictCorrect,
	})
	expectCode(t, err, appErr.StaleGradingReport)

	graded, err := h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Attempt: 2, Status: model.StatusCheckSucceeded, Verdict: model.VerdictCorrect,
	})
	mustNoError(t, err, "ingest")
	if graded.Points != 5 {
		t.Fatalf("expected 5 points, got %d", graded.Points)
	}

	again, err := h.dispatcher.Rejudge(ctx, teacher, sub.ID, false)
	mustNoError(t, err, "rejudge")
	if again.Status != model.StatusQueued || again.Verdict != model.VerdictNone {
		t.Fatalf("expected a clean queued submission, got %s %s", again.Status, again.Verdict)
	}
	if again.Points != 0 || again.VerdictText != "" {
		t.Fatalf("rejudge must overwrite the outcome, got points=%d text=%q", again.Points, again.VerdictText)
	}
	if job := h.producer.lastJob(t); job.Attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", job.Attempt)
	}
}

func TestZeroTestTaskIsNeverGraded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary)

	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, 0))
	mustNoError(t, err, "submit")
	if sub.Status != model.StatusAwaitingCheck || sub.Verdict != model.VerdictNone {
		t.Fatalf("expected awaiting check without verdict, got %s %s", sub.Status, sub.Verdict)
	}
	if sub.VerdictText != model.NoTestsText {
		t.Fatalf("expected %q, got %q", model.NoTestsText, sub.VerdictText)
	}
	if n := h.producer.count(jobTopic); n != 0 {
		t.Fatalf("expected no jobs, got %d", n)
	}

	if _, err := h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{Status: model.StatusCheckSucceeded, Verdict: model.VerdictCorrect}); err == nil {
		t.Fatal("expected report for an ungraded submission to fail")
	}
	stored, err := h.submissions.Get(ctx, student, sub.ID)
	mustNoError(t, err, "get submission")
	if stored.Verdict != model.VerdictNone {
		t.Fatalf("expected no verdict, got %s", stored.Verdict)
	}
}

func TestForcedRejudgeRecoversAwaitingSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary)

	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, 0))
	mustNoError(t, err, "submit")
	if sub.Status != model.StatusAwaitingCheck {
		t.Fatalf("expected awaiting check, got %s", sub.Status)
	}

	_, err = h.tasks.AddTests(ctx, teacher, task.ID, []model.TestCaseSpec{{Content: "1 2", Answer: "3"}})
	mustNoError(t, err, "add tests")

	_, err = h.dispatcher.Rejudge(ctx, teacher, sub.ID, false)
	expectCode(t, err, appErr.RejudgeConflict)

	recovered, err := h.dispatcher.Rejudge(ctx, admin, sub.ID, true)
	mustNoError(t, err, "forced rejudge")
	if recovered.Status != model.StatusQueued || recovered.Attempt != 1 {
		t.Fatalf("expected queued attempt 1, got %s attempt %d", recovered.Status, recovered.Attempt)
	}
	if recovered.VerdictText != "" {
		t.Fatalf("expected the no-tests text to be cleared, got %q", recovered.VerdictText)
	}
	if n := h.producer.count(jobTopic); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}
	job := h.producer.lastJob(t)
	if job.SubmissionID != sub.ID || len(job.Tests) != 1 {
		t.Fatalf("unexpected job: submission=%d tests=%d", job.SubmissionID, len(job.Tests))
	}

	graded, err := h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Attempt: job.Attempt, TaskVersion: job.TaskVersion, Status: model.StatusCheckSucceeded, Verdict: model.VerdictCorrect,
	})
	mustNoError(t, err, "ingest")
	if graded.Verdict != model.VerdictCorrect {
		t.Fatalf("expected correct, got %s", graded.Verdict)
	}
}

func TestTestsAddedDuringGradingRequeue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingPointsPerTest, 10)

	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, 0))
	mustNoError(t, err, "submit")
	first := h.producer.lastJob(t)
	if first.TaskVersion != task.Version || sub.TaskVersion != task.Version {
		t.Fatalf("expected job and row at version %d, got %d and %d", task.Version, first.TaskVersion, sub.TaskVersion)
	}

	_, err = h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Attempt: first.Attempt, TaskVersion: first.TaskVersion, Status: model.StatusInProgress, CurrentTestIndex: intp(0),
	})
	mustNoError(t, err, "ingest progress")

	_, err = h.tasks.AddTests(ctx, teacher, task.ID, []model.TestCaseSpec{{Content: "2 2", Answer: "4", MaxPoints: int64p(20)}})
	mustNoError(t, err, "add tests")

	// The final report only covers the single test the judge was given.
	_, err = h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Attempt: first.Attempt, Status: model.StatusCheckSucceeded, Verdict: model.VerdictCorrect,
		Tests: []model.TestResult{{Index: 0, Passed: true}},
	})
	expectCode(t, err, appErr.StaleGradingReport)

	requeued, err := h.submissions.Get(ctx, student, sub.ID)
	mustNoError(t, err, "get submission")
	if requeued.Status != model.StatusQueued || requeued.Attempt != first.Attempt+1 {
		t.Fatalf("expected queued attempt %d, got %s attempt %d", first.Attempt+1, requeued.Status, requeued.Attempt)
	}
	if requeued.Points != 0 || requeued.Verdict != model.VerdictNone {
		t.Fatalf("partial outcome must not survive, got %d %s", requeued.Points, requeued.Verdict)
	}
	second := h.producer.lastJob(t)
	if second.Attempt != requeued.Attempt || len(second.Tests) != 2 {
		t.Fatalf("expected attempt %d over 2 tests, got attempt %d over %d", requeued.Attempt, second.Attempt, len(second.Tests))
	}
	if second.TaskVersion <= first.TaskVersion || requeued.TaskVersion != second.TaskVersion {
		t.Fatalf("expected a newer task version, got job %d row %d (was %d)", second.TaskVersion, requeued.TaskVersion, first.TaskVersion)
	}

	graded, err := h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Attempt: second.Attempt, TaskVersion: second.TaskVersion, Status: model.StatusCheckSucceeded, Verdict: model.VerdictCorrect,
		Tests: []model.TestResult{{Index: 0, Passed: true}, {Index: 1, Passed: true}},
	})
	mustNoError(t, err, "ingest")
	if graded.Points != 30 {
		t.Fatalf("expected both tests scored, got %d", graded.Points)
	}

	// Reports tagged with an old task version are dropped even for the current attempt.
	_, err = h.dispatcher.Rejudge(ctx, teacher, sub.ID, false)
	mustNoError(t, err, "rejudge")
	third := h.producer.lastJob(t)
	_, err = h.dispatcher.Ingest(ctx, sub.ID, model.GradingReport{
		Attempt: third.Attempt, TaskVersion: first.TaskVersion, Status: model.StatusInProgress, CurrentTestIndex: intp(0),
	})
	expectCode(t, err, appErr.StaleGradingReport)
}

func TestPublishFailureLeavesSubmissionQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary, 1)
	h.producer.fail = errBrokerDown

	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, 0))
	mustNoError(t, err, "submit")
	if sub.Status != model.StatusQueued {
		t.Fatalf("expected queued, got %s", sub.Status)
	}
	if h.producer.calls != 2 {
		t.Fatalf("expected one publish plus one retry, got %d calls", h.producer.calls)
	}

	h.producer.fail = nil
	_, err = h.dispatcher.Rejudge(ctx, teacher, sub.ID, false)
	expectCode(t, err, appErr.RejudgeConflict)
	recovered, err := h.dispatcher.Rejudge(ctx, admin, sub.ID, true)
	mustNoError(t, err, "forced rejudge")
	if recovered.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", recovered.Attempt)
	}
	if n := h.producer.count(jobTopic); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}
}

func TestHandleResultMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary, 1)
	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, 0))
	mustNoError(t, err, "submit")

	if err := h.dispatcher.HandleResultMessage(ctx, mq.NewMessage([]byte("{not json"))); !mq.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}

	stale, err := json.Marshal(model.ResultMessage{SubmissionID: sub.ID, GradingReport: model.GradingReport{
		Attempt: 9, Status: model.StatusCheckSucceeded, Verdict: model.VerdictCorrect,
	}})
	mustNoError(t, err, "marshal result")
	if err := h.dispatcher.HandleResultMessage(ctx, mq.NewMessage(stale)); err != nil {
		t.Fatalf("stale reports are acknowledged, got %v", err)
	}

	body := []byte(`{"submission_id":` + itoa(sub.ID) + `,"attempt":1,"status":"check-succeeded","verdict":"correct"}`)
	mustNoError(t, h.dispatcher.HandleResultMessage(ctx, mq.NewMessage(body)), "handle result")
	stored, err := h.submissions.Get(ctx, student, sub.ID)
	mustNoError(t, err, "get submission")
	if stored.Verdict != model.VerdictCorrect {
		t.Fatalf("expected correct, got %s", stored.Verdict)
	}
}

func TestComputeBackoff(t *testing.T) {
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := service.ComputeBackoff(tc.retry, 100*time.Millisecond, time.Second); got != tc.want {
			t.Fatalf("retry %d: expected %v, got %v", tc.retry, tc.want, got)
		}
	}
	if got := service.ComputeBackoff(3, 0, time.Second); got != 0 {
		t.Fatalf("expected zero without base, got %v", got)
	}
}
