package controller

import (
	"fmt"
	"io"
	"strconv"

	commonmw "eduoj/internal/common/http/middleware"
	"eduoj/internal/contest/service"
	appErr "eduoj/pkg/errors"
	"eduoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultMaxUploadBytes = 1 << 20

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func currentActor(c *gin.Context) (service.Actor, bool) {
	id, ok := commonmw.CurrentIdentity(c)
	if !ok {
		response.Unauthorized(c, "login required")
		return service.Actor{}, false
	}
	return service.Actor{UserID: id.UserID, Role: id.Role}, true
}

// contestError redirects disqualified contestants to the fixed view and
// renders every other error normally.
func contestError(c *gin.Context, basePath string, contestID int64, err error) {
	if appErr.Is(err, appErr.ParticipantDisqualified) {
		response.SeeOther(c, fmt.Sprintf("%s/contests/%d/disqualified", basePath, contestID), appErr.ParticipantDisqualified)
		return
	}
	response.Error(c, err)
}

// SubmitRequest is the upload body. Multipart requests may send the source
// as a "file" part instead of the code field.
type SubmitRequest struct {
	Language string `json:"language" form:"language" binding:"required"`
	Filename string `json:"filename" form:"filename"`
	Code     string `json:"code" form:"code"`
	CourseID int64  `json:"course_id" form:"course_id"`
}

// readUpload binds the request and returns the source bytes. Reads stop one
// byte past limit so the size check downstream still sees an oversized file.
func readUpload(c *gin.Context, limit int64) (SubmitRequest, []byte, error) {
	var req SubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		return req, nil, appErr.New(appErr.InvalidParams).WithMessage("Invalid request parameters")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return req, []byte(req.Code), nil
	}
	f, err := fh.Open()
	if err != nil {
		return req, nil, appErr.Wrapf(err, appErr.InvalidParams, "read upload failed")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return req, nil, appErr.Wrapf(err, appErr.InvalidParams, "read upload failed")
	}
	if req.Filename == "" {
		req.Filename = fh.Filename
	}
	return req, data, nil
}
