package controller

import (
	"strings"

	"eduoj/internal/contest/model"
	"eduoj/internal/contest/service"
	appErr "eduoj/pkg/errors"
	"eduoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestController handles contest, registration and scoreboard endpoints.
type ContestController struct {
	clock       *service.ClockService
	registry    *service.Registry
	scoreboard  *service.Aggregator
	submissions *service.SubmissionService
	maxUpload   int64
	basePath    string
}

// NewContestController creates a ContestController.
func NewContestController(clock *service.ClockService, registry *service.Registry, scoreboard *service.Aggregator, submissions *service.SubmissionService, maxUpload int64) *ContestController {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &ContestController{
		clock:       clock,
		registry:    registry,
		scoreboard:  scoreboard,
		submissions: submissions,
		maxUpload:   maxUpload,
	}
}

// Create stores a new contest owned by the caller.
func (h *ContestController) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var spec model.ContestSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	contest, err := h.clock.Create(c.Request.Context(), actor, spec)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, contest)
}

func (h *ContestController) Get(c *gin.Context) {
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	contest, err := h.clock.Get(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, contest)
}

// SetTasksRequest replaces the ordered task set of a contest.
type SetTasksRequest struct {
	TaskIDs []int64 `json:"task_ids" binding:"required"`
}

func (h *ContestController) SetTasks(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	var req SetTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	contest, err := h.clock.SetTasks(c.Request.Context(), actor, contestID, req.TaskIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, contest)
}

// Clock evaluates the contest phase and reports the countdown. Clients poll
// it; the first poll after a boundary persists the transition.
func (h *ContestController) Clock(c *gin.Context) {
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	if !h.admitViewer(c, contestID) {
		return
	}
	reading, err := h.clock.Check(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, reading)
}

func (h *ContestController) Register(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	participant, err := h.registry.Register(c.Request.Context(), contestID, actor.UserID)
	if err != nil {
		contestError(c, h.basePath, contestID, err)
		return
	}
	response.Created(c, participant)
}

// Me returns the caller's registration, including a disqualification.
func (h *ContestController) Me(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	participant, err := h.registry.GetForUser(c.Request.Context(), contestID, actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, participant)
}

// DisqualifiedView is the fixed page disqualified contestants land on.
type DisqualifiedView struct {
	ContestID    int64  `json:"contest_id"`
	Disqualified bool   `json:"disqualified"`
	Reason       string `json:"reason,omitempty"`
}

func (h *ContestController) Disqualified(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	participant, err := h.registry.GetForUser(c.Request.Context(), contestID, actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, DisqualifiedView{
		ContestID:    contestID,
		Disqualified: participant.Deleted,
		Reason:       participant.DeleteReason,
	})
}

// Submit uploads a contest solution. The response carries the stored
// submission; grading continues in the background.
func (h *ContestController) Submit(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	taskID, ok := parseID(c, "task_id")
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
		ContestID:      contestID,
		Language:       req.Language,
		Filename:       req.Filename,
		Code:           code,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		contestError(c, h.basePath, contestID, err)
		return
	}
	response.Accepted(c, submission)
}

func (h *ContestController) Scoreboard(c *gin.Context) {
	contestID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	if !h.admitViewer(c, contestID) {
		return
	}
	board, err := h.scoreboard.Build(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, board)
}

// admitViewer sends a disqualified caller to the fixed view. Callers without
// a registration still see the public contest pages.
func (h *ContestController) admitViewer(c *gin.Context, contestID int64) bool {
	actor, ok := currentActor(c)
	if !ok {
		return false
	}
	_, err := h.registry.RequireActive(c.Request.Context(), nil, contestID, actor.UserID)
	if err == nil || appErr.Is(err, appErr.NotRegistered) {
		return true
	}
	contestError(c, h.basePath, contestID, err)
	return false
}
