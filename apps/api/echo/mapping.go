package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/apps/shared"
	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/mapping"
)

type mappingApi struct {
	*shared.App
}

func registerMappingAPI(g *echo.Group, app *shared.App) {
	api := mappingApi{App: app}

	mg := g.Group("/mapping")
	mg.POST("/optimize", api.optimize)
	mg.POST("/report", api.report)
	mg.POST("/clean", api.clean)
	mg.POST("/quickfix", api.quickFix)
	mg.GET("/integrity", api.integrity)
	mg.GET("/validation", api.validation)
	mg.GET("/suggestions", api.suggestions)
	mg.GET("/backups", api.backups)
}

// mail sends msg when `?email=true` is passed and report recipients are configured.
func mail(ctx echo.Context, mailer core.EmailService, msg *core.EmailMessage) {
	if send, _ := strconv.ParseBool(ctx.QueryParam("email")); send && msg.HasRecipients() {
		mailer.SendMessages(msg)
	}
}

func (api *mappingApi) bindOptimize(ctx echo.Context) (mapping.OptimizeRequest, error) {
	var data mapping.OptimizeRequest
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&data); err != nil {
			return data, errors.Wrap(err, "binding to OptimizeRequest")
		}
	}
	if data.Strategy == "" {
		data.Strategy = api.Conf.Mapping.Strategy
	}
	return data, data.Validate(api.Validate)
}

// Handlers

func (api *mappingApi) optimize(ctx echo.Context) error {
	data, err := api.bindOptimize(ctx)
	if err != nil {
		return err
	}

	wf, err := api.Mapping.ExecuteComplete(ctx.Request().Context(), data.Options())
	if err != nil {
		return errors.Wrap(err, "optimizing mappings")
	}
	if wf.Report != nil {
		mail(ctx, api.Mailer, wf.Report.EmailMessage(api.Conf.ReportRecipients))
	}
	return ctx.JSON(http.StatusOK, wf)
}

func (api *mappingApi) report(ctx echo.Context) error {
	data, err := api.bindOptimize(ctx)
	if err != nil {
		return err
	}

	run, err := api.Mapping.Run(ctx.Request().Context(), data.Options().RunOptions)
	if err != nil {
		return errors.Wrap(err, "running mappings")
	}
	rep, err := api.Mapping.Report(run)
	if err != nil {
		return errors.Wrap(err, "building report")
	}
	mail(ctx, api.Mailer, rep.EmailMessage(api.Conf.ReportRecipients))
	return ctx.JSON(http.StatusOK, rep)
}

func (api *mappingApi) clean(ctx echo.Context) error {
	res, err := api.Mapping.CleanAndStandardize(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "cleaning mappings")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *mappingApi) quickFix(ctx echo.Context) error {
	var data mapping.QuickFixRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to QuickFixRequest")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	res, err := api.Mapping.QuickFix(ctx.Request().Context(), data.Issues)
	if err != nil {
		return errors.Wrap(err, "fixing mappings")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *mappingApi) integrity(ctx echo.Context) error {
	rep, err := api.Mapping.Integrity(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "checking integrity")
	}
	return ctx.JSON(http.StatusOK, rep)
}

func (api *mappingApi) validation(ctx echo.Context) error {
	val, err := api.Mapping.Validate(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "validating mappings")
	}
	return ctx.JSON(http.StatusOK, val)
}

func (api *mappingApi) suggestions(ctx echo.Context) error {
	data := mapping.SuggestionsRequest{ClassName: ctx.QueryParam("className"), Subject: ctx.QueryParam("subject")}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}

	sugs, err := api.Mapping.MissingSuggestions(ctx.Request().Context(), data.ClassName, data.Subject)
	if err != nil {
		return errors.Wrap(err, "suggesting courses")
	}
	if sugs == nil {
		sugs = []mapping.MissingSuggestion{}
	}
	return ctx.JSON(http.StatusOK, sugs)
}

func (api *mappingApi) backups(ctx echo.Context) error {
	ids, err := api.Mapping.Backups(ctx.Request().Context())
	if err != nil {
		if errors.Is(err, mapping.ErrNoBackupList) {
			return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
		}
		return err
	}
	return ctx.JSON(http.StatusOK, ids)
}
