package server

import (
	"context"
	"net/http"

	"apphost/internal/errors"
	"apphost/internal/logger"

	"github.com/labstack/echo/v4"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID contextKey = "request_id"
	// ContextKeyRunID is the key for the run ID in context
	ContextKeyRunID contextKey = "run_id"
)

// contextEnricher copies the request id set by the request logger and the run
// id into the request context
func contextEnricher(runID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if reqID, ok := c.Get("request_id").(string); ok && reqID != "" {
				ctx = context.WithValue(ctx, ContextKeyRequestID, reqID)
				c.Response().Header().Set(echo.HeaderXRequestID, reqID)
			}
			ctx = context.WithValue(ctx, ContextKeyRunID, runID)

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ErrorHandler renders every error as an errors.HTTPErrorResponse
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	he, ok := err.(*echo.HTTPError)
	if !ok {
		he = errors.ToHTTPError(err).(*echo.HTTPError)
	}

	body, ok := he.Message.(errors.HTTPErrorResponse)
	if !ok {
		body = errors.HTTPErrorResponse{Error: errors.ErrorInfo{
			Code:    codeForStatus(he.Code),
			Message: http.StatusText(he.Code),
		}}
		if msg, isString := he.Message.(string); isString {
			body.Error.Message = msg
		}
	}

	if he.Code >= http.StatusInternalServerError {
		logger.GetLogger(c).WithError(err).Error("Request error")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, body)
}

func codeForStatus(status int) errors.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return errors.ErrNotFound
	case http.StatusBadRequest:
		return errors.ErrValidation
	case http.StatusServiceUnavailable:
		return errors.ErrShuttingDown
	default:
		return errors.ErrInternal
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return id
	}
	return ""
}
