package controller

import (
	"github.com/gin-gonic/gin"
)

// Routes mounts every contest-service endpoint. Auth guards user-facing
// routes and Judge guards the judge callback.
type Routes struct {
	Tasks       *TaskController
	Contests    *ContestController
	Submissions *SubmissionController
	Auth        gin.HandlerFunc
	Judge       gin.HandlerFunc
}

// Register mounts the routes on group.
func (r Routes) Register(group *gin.RouterGroup) {
	r.Contests.basePath = group.BasePath()
	if r.Contests.basePath == "/" {
		r.Contests.basePath = ""
	}

	group.PATCH("/submissions/:id", r.Judge, r.Submissions.Report)

	api := group.Group("", r.Auth)
	api.POST("/tasks", r.Tasks.Create)
	api.GET("/tasks/:id", r.Tasks.Get)
	api.PUT("/tasks/:id", r.Tasks.Update)
	api.GET("/tasks/:id/tests", r.Tasks.ListTests)
	api.POST("/tasks/:id/tests", r.Tasks.AddTests)
	api.POST("/tasks/:id/submissions", r.Tasks.Submit)

	api.POST("/contests", r.Contests.Create)
	api.GET("/contests/:id", r.Contests.Get)
	api.PUT("/contests/:id/tasks", r.Contests.SetTasks)
	api.GET("/contests/:id/clock", r.Contests.Clock)
	api.GET("/contests/:id/scoreboard", r.Contests.Scoreboard)
	api.POST("/contests/:id/register", r.Contests.Register)
	api.GET("/contests/:id/participants/me", r.Contests.Me)
	api.GET("/contests/:id/disqualified", r.Contests.Disqualified)
	api.POST("/contests/:id/tasks/:task_id/submissions", r.Contests.Submit)

	api.GET("/submissions/:id", r.Submissions.Get)
	api.GET("/submissions/:id/source", r.Submissions.GetSource)
	api.POST("/solutions/:id/rejudge", r.Submissions.Rejudge)
	api.POST("/participants/:id/disqualify", r.Submissions.Disqualify)
}
