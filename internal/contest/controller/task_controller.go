package controller

import (
	"strings"

	"eduoj/internal/contest/model"
	"eduoj/internal/contest/service"
	"eduoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// TaskController handles task catalog endpoints and course submissions.
type TaskController struct {
	tasks       *service.TaskService
	submissions *service.SubmissionService
	maxUpload   int64
}

// NewTaskController creates a TaskController.
func NewTaskController(tasks *service.TaskService, submissions *service.SubmissionService, maxUpload int64) *TaskController {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &TaskController{tasks: tasks, submissions: submissions, maxUpload: maxUpload}
}

func (h *TaskController) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var spec model.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	result, err := h.tasks.Create(c.Request.Context(), actor, spec)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Update replaces the task description and limits. Tests in the body are
// ignored; use AddTests.
func (h *TaskController) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	taskID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid task id")
		return
	}
	var spec model.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	spec.Tests = nil
	result, err := h.tasks.Update(c.Request.Context(), actor, taskID, spec)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func (h *TaskController) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	taskID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid task id")
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), actor, taskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

func (h *TaskController) ListTests(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	taskID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid task id")
		return
	}
	tests, err := h.tasks.ListTests(c.Request.Context(), actor, taskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tests)
}

// AddTestsRequest appends tests to a task.
type AddTestsRequest struct {
	Tests []model.TestCaseSpec `json:"tests" binding:"required"`
}

func (h *TaskController) AddTests(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	taskID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid task id")
		return
	}
	var req AddTestsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	added, err := h.tasks.AddTests(c.Request.Context(), actor, taskID, req.Tests)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, added)
}

// Submit uploads a solution outside any contest, optionally scoped to a
// course.
func (h *TaskController) Submit(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	taskID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid task id")
		return
	}
	req, code, err := readUpload(c, h.maxUpload)
	if err != nil {
		response.Error(c, err)
		return
	}
	submission, err := h.submissions.Submit(c.Request.Context(), service.SubmitInput{
		UserID:         actor.UserID,
		TaskID:         taskID,
		CourseID:       req.CourseID,
		Language:       req.Language,
		Filename:       req.Filename,
		Code:           code,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, submission)
}
