package resource

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/search"
	"github.com/ehr/fhirsearch/internal/platform/store"
)

// Outcome maps err to an HTTP status and the OperationOutcome describing
// it.
func Outcome(err error) (int, *fhir.OperationOutcome) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if o, ok := he.Message.(*fhir.OperationOutcome); ok {
			return he.Code, o
		}
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, fhir.NewOperationOutcome(fhir.IssueSeverityError, issueCode(he.Code), msg)
	}

	if se, ok := search.AsError(err); ok {
		return http.StatusBadRequest, fhir.InvalidOutcome(se.Msg)
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error())
	case errors.Is(err, store.ErrGone):
		return http.StatusGone, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeDeleted, err.Error())
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, fhir.ConflictOutcome(err.Error())
	case errors.Is(err, ErrUnknownType):
		return http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, err.Error())
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest, fhir.InvalidOutcome(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, fhir.TimeoutOutcome()
	default:
		return http.StatusInternalServerError, fhir.NewOperationOutcome(fhir.IssueSeverityFatal, fhir.IssueTypeException, "internal server error")
	}
}

func issueCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return fhir.IssueTypeNotFound
	case http.StatusMethodNotAllowed, http.StatusUnsupportedMediaType:
		return fhir.IssueTypeNotSupported
	case http.StatusRequestEntityTooLarge:
		return fhir.IssueTypeTooCostly
	case http.StatusConflict:
		return fhir.IssueTypeConflict
	case http.StatusGatewayTimeout:
		return fhir.IssueTypeTimeout
	}
	if status >= http.StatusInternalServerError {
		return fhir.IssueTypeException
	}
	return fhir.IssueTypeInvalid
}

// ErrorHandler renders every error as an OperationOutcome. Unexpected
// errors are logged; their detail never reaches the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, outcome := Outcome(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = writeJSON(c, status, outcome)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
