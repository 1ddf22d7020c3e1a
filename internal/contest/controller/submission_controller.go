package controller

import (
	"strconv"

	"eduoj/internal/contest/model"
	"eduoj/internal/contest/service"
	"eduoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionController handles submission reads, rejudges, judge callbacks
// and disqualification.
type SubmissionController struct {
	submissions *service.SubmissionService
	dispatcher  *service.Dispatcher
	registry    *service.Registry
}

// NewSubmissionController creates a SubmissionController.
func NewSubmissionController(submissions *service.SubmissionService, dispatcher *service.Dispatcher, registry *service.Registry) *SubmissionController {
	return &SubmissionController{submissions: submissions, dispatcher: dispatcher, registry: registry}
}

func (h *SubmissionController) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	submissionID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.submissions.Get(c.Request.Context(), actor, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submission)
}

// SourceResponse is the submitted code with its artifact metadata.
type SourceResponse struct {
	SubmissionID int64  `json:"submission_id"`
	Language     string `json:"language"`
	Filename     string `json:"filename"`
	Digest       string `json:"digest"`
	Code         string `json:"code"`
	CreatedAt    string `json:"created_at"`
}

func (h *SubmissionController) GetSource(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	submissionID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	artifact, err := h.submissions.GetSource(c.Request.Context(), actor, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SourceResponse{
		SubmissionID: submissionID,
		Language:     artifact.Language,
		Filename:     artifact.Filename,
		Digest:       artifact.Digest,
		Code:         artifact.Code,
		CreatedAt:    artifact.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// Rejudge resets a finished submission and queues it again. force=true lets
// admins restart a submission that is still being graded.
func (h *SubmissionController) Rejudge(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	submissionID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	force := false
	if raw := c.Query("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(c, "Invalid force flag")
			return
		}
		force = v
	}
	submission, err := h.dispatcher.Rejudge(c.Request.Context(), actor, submissionID, force)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, submission)
}

// Report is the judge callback. It takes the same report the judge.result
// topic carries.
func (h *SubmissionController) Report(c *gin.Context) {
	submissionID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	var report model.GradingReport
	if err := c.ShouldBindJSON(&report); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	submission, err := h.dispatcher.Ingest(c.Request.Context(), submissionID, report)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submission)
}

// DisqualifyRequest carries the mandatory reason.
type DisqualifyRequest struct {
	Reason string `json:"reason"`
}

func (h *SubmissionController) Disqualify(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	participantID, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid participant id")
		return
	}
	var req DisqualifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	participant, err := h.registry.Disqualify(c.Request.Context(), actor, participantID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, participant)
}
