package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/apierror"
)

var errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")

// failureStatus maps the kind of a failed Classroom call to the status returned to the client.
func failureStatus(kind apierror.Kind) int {
	switch kind {
	case apierror.KindNotFound:
		return http.StatusNotFound
	case apierror.KindPermissionDenied, apierror.KindCannotDirectAddUser, apierror.KindPermission:
		return http.StatusForbidden
	case apierror.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case apierror.KindServiceUnavailable, apierror.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var (
			vErrs   validator.ValidationErrors
			valErr  *core.ValidationError
			failure *apierror.Failure
			httpErr *echo.HTTPError
		)
		switch {
		case errors.As(err, &vErrs):
			code = http.StatusBadRequest
			message = core.TranslateErrors(vErrs, translator)
		case errors.As(err, &valErr):
			if valErr.Fields != nil {
				fldErrs := make(map[string]string, len(valErr.Fields))
				for _, fErr := range valErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = valErr.Error()
			}
			code = http.StatusBadRequest
		case errors.As(err, &failure):
			code = failureStatus(failure.Info.Kind)
			message = echo.Map{
				"error":    failure.UserMessage,
				"type":     failure.Info.Kind,
				"attempts": failure.Attempts,
			}
			if code >= http.StatusInternalServerError {
				logger.Error(fmt.Sprintf("%s: %v", ctx.Path(), err), err)
			}
		case errors.As(err, &httpErr):
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			message = httpErr.Message
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), map[string]interface{}{
				"path":      ctx.Path(),
				"requestId": ctx.Response().Header().Get(echo.HeaderXRequestID),
			})
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
