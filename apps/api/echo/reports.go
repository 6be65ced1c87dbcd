package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/apps/shared"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/progress"
)

const (
	defaultBatchLimit = 10
	maxBatchLimit     = 100
)

type reportApi struct {
	*shared.App
}

type StatusResponse struct {
	Env              string           `json:"env"`
	Build            string           `json:"build"`
	MappingStore     string           `json:"mappingStore"`
	MappingStrategy  string           `json:"mappingStrategy"`
	ExpectedMappings int              `json:"expectedMappings"`
	Classroom        classroom.Status `json:"classroom"`
}

func registerStatusAPI(g *echo.Group, app *shared.App) {
	api := reportApi{App: app}
	g.GET("/status", api.status)
	g.DELETE("/cache", api.clearCache)
}

func registerReportAPI(g *echo.Group, app *shared.App) {
	api := reportApi{App: app}
	g.GET("/progress", api.progress)
	g.GET("/batches", api.batches)
}

// Handlers

func (api *reportApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StatusResponse{
		Env:              api.Conf.Env,
		Build:            api.Conf.Build,
		MappingStore:     api.Conf.Mapping.Store,
		MappingStrategy:  api.Conf.Mapping.Strategy,
		ExpectedMappings: len(api.Taxonomy.ExpectedCombinations()),
		Classroom:        api.Classroom.Status(),
	})
}

func (api *reportApi) clearCache(ctx echo.Context) error {
	api.Classroom.ClearCache()
	return ctx.NoContent(http.StatusNoContent)
}

func (api *reportApi) progress(ctx echo.Context) error {
	rep, err := api.Evaluator.Run(ctx.Request().Context(), api.Gradebooks)
	if err != nil {
		if errors.Is(err, shared.ErrNoSpreadsheet) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, shared.ErrNoSpreadsheet.Error())
		}
		return errors.Wrap(err, "evaluating progress")
	}
	mail(ctx, api.Mailer, rep.EmailMessage(api.Conf.ReportRecipients))
	return ctx.JSON(http.StatusOK, rep)
}

func (api *reportApi) batches(ctx echo.Context) error {
	limit := defaultBatchLimit
	if val := ctx.QueryParam("limit"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 || n > maxBatchLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a number between 1 and 100")
		}
		limit = n
	}

	runs, err := api.Batches.Recent(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "listing batches")
	}
	if runs == nil {
		runs = []progress.Summary{}
	}
	return ctx.JSON(http.StatusOK, runs)
}
