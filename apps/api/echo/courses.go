package echoapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/apps/shared"
	"github.com/trezcool/gradebook/core/classroom"
)

type courseApi struct {
	*shared.App
}

func registerCourseAPI(g *echo.Group, app *shared.App) {
	api := courseApi{App: app}

	cg := g.Group("/courses")
	cg.GET("", api.query)
	cg.POST("", api.createBatch)

	// detail endpoints
	dg := cg.Group("/:id")
	dg.PATCH("", api.update)
	dg.POST("/archive", api.archive)
	dg.GET("/members", api.queryMembers)
	dg.POST("/members", api.addMembers)
	dg.DELETE("/members/:email", api.removeMember)
}

type (
	CourseList struct {
		Count   int                `json:"count"`
		Courses []classroom.Course `json:"courses"`
	}

	AddMembersRequest struct {
		Role         classroom.Role `json:"role"`
		Emails       []string       `json:"emails"`
		SkipExisting bool           `json:"skipExisting"`
	}

	AddStatusResult struct {
		Email  string              `json:"userEmail"`
		Status classroom.AddStatus `json:"status,omitempty"`
		Error  string              `json:"error,omitempty"`
	}
)

// batchStatus is 201 when every item went through, 207 otherwise.
func batchStatus(ok bool) int {
	if ok {
		return http.StatusCreated
	}
	return http.StatusMultiStatus
}

// Handlers

func (api *courseApi) query(ctx echo.Context) error {
	refresh, _ := strconv.ParseBool(ctx.QueryParam("refresh"))
	courses, err := api.Classroom.ListAllCourses(ctx.Request().Context(), classroom.ListOptions{ForceRefresh: refresh})
	if err != nil {
		return errors.Wrap(err, "listing courses")
	}

	list := CourseList{Courses: make([]classroom.Course, 0, len(courses))}
	state := classroom.CourseState(strings.ToUpper(ctx.QueryParam("state")))
	for _, c := range courses {
		if state == "" || c.State == state {
			list.Courses = append(list.Courses, c)
		}
	}
	var ord Ordering
	ord.Bind(ctx)
	ord.SortCourses(list.Courses)
	list.Count = len(list.Courses)

	return ctx.JSON(http.StatusOK, list)
}

func (api *courseApi) createBatch(ctx echo.Context) error {
	var data classroom.NewCourses
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourses")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	batch, err := api.Classroom.CreateCoursesBatch(ctx.Request().Context(), data.Names, data.OwnerID, classroom.BatchOptions{})
	if err != nil {
		return errors.Wrap(err, "creating courses")
	}
	api.Batches.Report(ctx.Request().Context(), batch.Summary)

	return ctx.JSON(batchStatus(batch.Success), batch)
}

func (api *courseApi) update(ctx echo.Context) error {
	var data classroom.Update
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Update")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	course, err := api.Classroom.UpdateCourse(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, course)
}

func (api *courseApi) archive(ctx echo.Context) error {
	course, err := api.Classroom.ArchiveCourse(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "archiving course")
	}
	return ctx.JSON(http.StatusOK, course)
}

func (api *courseApi) queryMembers(ctx echo.Context) error {
	members, err := api.Classroom.GetCourseMembers(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing members")
	}
	return ctx.JSON(http.StatusOK, members)
}

func (api *courseApi) addMembers(ctx echo.Context) error {
	var req AddMembersRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to AddMembersRequest")
	}
	if req.Role == "" {
		req.Role = classroom.RoleStudent
	}
	data := classroom.NewMembers{Role: classroom.Role(strings.ToUpper(string(req.Role)))}
	for _, email := range req.Emails {
		data.Members = append(data.Members, classroom.NewMember{CourseID: ctx.Param("id"), Email: email})
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	if req.SkipExisting {
		return api.addIfNotExists(ctx, data)
	}

	batch, err := api.Classroom.AddMembersBatch(ctx.Request().Context(), data.Members, data.Role)
	if err != nil {
		return errors.Wrap(err, "adding members")
	}
	api.Batches.Report(ctx.Request().Context(), batch.Summary)

	return ctx.JSON(batchStatus(batch.Success), batch)
}

func (api *courseApi) addIfNotExists(ctx echo.Context, data classroom.NewMembers) error {
	add := api.Classroom.AddStudentIfNotExists
	if data.Role == classroom.RoleTeacher {
		add = api.Classroom.AddTeacherIfNotExists
	}

	ok := true
	results := make([]AddStatusResult, 0, len(data.Members))
	for _, m := range data.Members {
		res := AddStatusResult{Email: m.Email}
		status, err := add(ctx.Request().Context(), m.CourseID, m.Email)
		if err != nil {
			ok = false
			res.Error = err.Error()
		} else {
			res.Status = status
		}
		results = append(results, res)
	}
	return ctx.JSON(batchStatus(ok), results)
}

func (api *courseApi) removeMember(ctx echo.Context) error {
	if err := api.Classroom.RemoveMember(ctx.Request().Context(), ctx.Param("id"), ctx.Param("email")); err != nil {
		return errors.Wrap(err, "removing member")
	}
	return ctx.NoContent(http.StatusNoContent)
}
