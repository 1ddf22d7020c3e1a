package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"eduoj/internal/contest/model"
	"eduoj/internal/contest/service"
	appErr "eduoj/pkg/errors"
)

func TestSubmitRejectsBadUploadsWithoutRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary, 1)

	cases := []struct {
		name   string
		mutate func(in *service.SubmitInput)
		code   appErr.ErrorCode
	}{
		{"invalid utf-8", func(in *service.SubmitInput) { in.Code = []byte{0xff, 0xfe, 'x'} }, appErr.WrongFileFormat},
		{"wrong extension", func(in *service.SubmitInput) { in.Filename = "main.cpp" }, appErr.WrongFileFormat},
		{"too large", func(in *service.SubmitInput) { in.Code = []byte(strings.Repeat("#", 2048)) }, appErr.CodeTooLarge},
		{"unknown language", func(in *service.SubmitInput) { in.Language = "Brainfuck" }, appErr.LanguageNotSupported},
		{"empty code", func(in *service.SubmitInput) { in.Code = nil }, appErr.ValidationFailed},
		{"unknown task", func(in *service.SubmitInput) { in.TaskID = 404 }, appErr.TaskNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := pythonInput(student.UserID, task.ID, 0)
			tc.mutate(&in)
			_, err := h.submissions.Submit(ctx, in)
			if err == nil {
				t.Fatal("expected error")
			}
			expectCode(t, err, tc.code)
		})
	}
	if n := h.countSubmissions(t); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
	if n := h.producer.count(jobTopic); n != 0 {
		t.Fatalf("expected no jobs, got %d", n)
	}
}

func TestSubmitContestGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inContest := h.createTask(t, model.GradingBinary, 1)
	outside := h.createTask(t, model.GradingBinary, 1)
	contest := h.createContest(t, inContest.ID)
	_, err := h.registry.Register(ctx, contest.ID, student.UserID)
	mustNoError(t, err, "register")

	_, err = h.submissions.Submit(ctx, pythonInput(student.UserID, inContest.ID, contest.ID))
	expectCode(t, err, appErr.ContestNotStarted)

	h.clock.Set(contestStart.Add(time.Minute))
	_, err = h.submissions.Submit(ctx, pythonInput(student.UserID, outside.ID, contest.ID))
	expectCode(t, err, appErr.TaskNotInContest)
	_, err = h.submissions.Submit(ctx, pythonInput(8, inContest.ID, contest.ID))
	expectCode(t, err, appErr.NotRegistered)

	h.clock.Set(contestStart.Add(121 * time.Minute))
	_, err = h.submissions.Submit(ctx, pythonInput(student.UserID, inContest.ID, contest.ID))
	expectCode(t, err, appErr.ContestEnded)
	if n := h.countSubmissions(t); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}

func TestSubmitChargesPenaltyPerSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary, 1)
	contest := h.createContest(t, task.ID)
	h.clock.Set(contestStart.Add(10*time.Minute + 59*time.Second))
	p, err := h.registry.Register(ctx, contest.ID, student.UserID)
	mustNoError(t, err, "register")

	_, err = h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, contest.ID))
	mustNoError(t, err, "first submit")
	h.clock.Set(contestStart.Add(25 * time.Minute))
	_, err = h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, contest.ID))
	mustNoError(t, err, "second submit")

	got, err := h.registry.Get(ctx, p.ID)
	mustNoError(t, err, "get participant")
	if got.Penalty != 35 {
		t.Fatalf("expected penalty 35, got %d", got.Penalty)
	}
}

func TestSubmitIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary, 1)

	in := pythonInput(student.UserID, task.ID, 0)
	in.IdempotencyKey = "retry-1"
	first, err := h.submissions.Submit(ctx, in)
	mustNoError(t, err, "first submit")
	second, err := h.submissions.Submit(ctx, in)
	mustNoError(t, err, "second submit")
	if first.ID != second.ID {
		t.Fatalf("expected the same submission, got %d and %d", first.ID, second.ID)
	}
	if n := h.countSubmissions(t); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}

	failing := pythonInput(student.UserID, 404, 0)
	failing.IdempotencyKey = "retry-2"
	if _, err := h.submissions.Submit(ctx, failing); err == nil {
		t.Fatal("expected error for unknown task")
	}
	if h.mr.Exists("submit:idempotency:retry-2") {
		t.Fatal("failed submissions release the key")
	}
}

func TestSubmissionVisibility(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary, 1)
	contest := h.createContest(t, task.ID)
	h.clock.Set(contestStart)
	_, err := h.registry.Register(ctx, contest.ID, student.UserID)
	mustNoError(t, err, "register")
	sub, err := h.submissions.Submit(ctx, pythonInput(student.UserID, task.ID, contest.ID))
	mustNoError(t, err, "submit")

	other := service.Actor{UserID: 8, Role: service.RoleStudent}
	_, err = h.submissions.Get(ctx, other, sub.ID)
	expectCode(t, err, appErr.SubmissionAccessDenied)
	_, err = h.submissions.Get(ctx, teacher, sub.ID)
	mustNoError(t, err, "teacher get")

	src, err := h.submissions.GetSource(ctx, student, sub.ID)
	mustNoError(t, err, "get source")
	if !strings.Contains(src.Code, "print(a + b)") || src.Language != "Python3" {
		t.Fatalf("unexpected source: %s %q", src.Language, src.Code)
	}

	// The contest owner reads contestant code.
	_, err = h.submissions.GetSource(ctx, teacher, sub.ID)
	mustNoError(t, err, "owner get source")
	_, err = h.submissions.GetSource(ctx, service.Actor{UserID: 2, Role: service.RoleTeacher}, sub.ID)
	expectCode(t, err, appErr.SubmissionAccessDenied)

	_, err = h.submissions.Get(ctx, teacher, 404)
	expectCode(t, err, appErr.SubmissionNotFound)
}

func TestSubmitRateLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	task := h.createTask(t, model.GradingBinary, 1)
	cfg := h.submitCfg
	cfg.RateLimit = service.RateLimitConfig{UserMax: 1, Window: time.Minute}
	limited, err := service.NewSubmissionService(cfg)
	mustNoError(t, err, "init limited service")

	in := pythonInput(student.UserID, task.ID, 0)
	_, err = limited.Submit(ctx, in)
	mustNoError(t, err, "first submit")
	_, err = limited.Submit(ctx, in)
	expectCode(t, err, appErr.SubmitTooFrequently)
}
