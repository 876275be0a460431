package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/chat"
	"github.com/trezcool/coursekit/core/checkout"
	"github.com/trezcool/coursekit/core/notebook"
	"github.com/trezcool/coursekit/core/progress"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
	certsvc "github.com/trezcool/coursekit/services/certificate"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
	errTooManyRequests      = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, try again later")
	errServiceUnavailable   = echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable")
)

// domainError maps the sentinel errors of the core packages to their response.
func domainError(cause error) (*echo.HTTPError, bool) {
	switch cause {
	case checkout.ErrInvalidSignature, checkout.ErrMalformedPayload:
		return echo.NewHTTPError(http.StatusBadRequest, cause.Error()), true
	case purchase.ErrKitOrderNotFound, access.ErrLessonNotFound, notebook.ErrNotFound:
		return echo.NewHTTPError(http.StatusNotFound, cause.Error()), true
	case user.ErrNotFound:
		return errHttpNotFound, true
	case purchase.ErrStatusMismatch, notebook.ErrNotebookFull:
		return echo.NewHTTPError(http.StatusConflict, cause.Error()), true
	case progress.ErrLessonLocked, chat.ErrNotEntitled, certsvc.ErrNotEligible:
		return echo.NewHTTPError(http.StatusForbidden, cause.Error()), true
	case progress.ErrNotAuthenticated:
		return errUnauthorized, true
	case chat.ErrUsageLimitReached:
		return echo.NewHTTPError(http.StatusTooManyRequests, cause.Error()), true
	case certsvc.ErrTimeout, notebook.ErrArchiveTimeout:
		return errServiceUnavailable, true
	}
	return nil, false
}

func fieldErrors(flds []core.FieldError) map[string]string {
	fldErrs := make(map[string]string, len(flds))
	for _, fErr := range flds {
		fldErrs[fErr.Field] = fErr.Error
	}
	return fldErrs
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		if herr, ok := domainError(cause); ok {
			cause = herr
		}

		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				message = fieldErrors(origErr.Fields)
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
			if errors.Cause(origErr.Err) == purchase.ErrInvalidTransition {
				code = http.StatusConflict
			}
		case *checkout.MissingFieldError:
			code = http.StatusBadRequest
			message = echo.Map{"error": origErr.Error(), "fields": origErr.Fields}
		case *checkout.PersistenceError:
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			// the provider retries the delivery on a server error
			logger.Error(fmt.Sprintf("checkout step %q failed: %v", origErr.Step, origErr.Err), errors.Wrap(err, msg))
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
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
