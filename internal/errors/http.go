package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPErrorResponse represents the structure of error responses sent to clients
type HTTPErrorResponse struct {
	Error   ErrorInfo              `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ErrorInfo contains the core error information
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// ToHTTPError converts an error to an Echo HTTP error
func ToHTTPError(err error) error {
	var ae *AppHostError
	if stderrors.As(err, &ae) {
		return echo.NewHTTPError(ae.GetHTTPStatus(), HTTPErrorResponse{
			Error: ErrorInfo{
				Code:    ae.Code,
				Message: ae.Message,
				Details: ae.Details,
			},
			Context: ae.Context,
		})
	}

	if code := GetCode(err); code != "" {
		status := StatusForCode(code)
		if status == http.StatusInternalServerError {
			status = http.StatusConflict
		}
		return echo.NewHTTPError(status, HTTPErrorResponse{
			Error: ErrorInfo{
				Code:    code,
				Message: err.Error(),
			},
		})
	}

	return echo.NewHTTPError(http.StatusInternalServerError, HTTPErrorResponse{
		Error: ErrorInfo{
			Code:    ErrInternal,
			Message: "Internal server error",
			Details: err.Error(),
		},
	})
}

// NotFound creates a 404 Not Found error
func NotFound(kind, id string) error {
	return echo.NewHTTPError(http.StatusNotFound, HTTPErrorResponse{
		Error: ErrorInfo{
			Code:    ErrNotFound,
			Message: "Not found",
			Details: kind + " '" + id + "' not found",
		},
	})
}
