package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// DataResponse writes an APIResponse envelope with the given status.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// ListResponse writes a list with its total.
func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{
		Rows:  rows,
		Total: total,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// AcceptedResponse acknowledges work that continues in the background.
func AcceptedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusAccepted, data)
}

func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}

// AppErrorResponse writes application error response.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if ra, ok := appErr.Params["retry_after"]; ok {
			if secs, ok := ra.(int); ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return InternalServerErrorResponse(c)
}

// ErrorHandler renders errors returned by handlers and echo itself in the
// APIResponse envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		_ = AppErrorResponse(c, NewAppError(errorCode(he.Code), "", msg, he.Code))
		return
	}
	_ = AppErrorResponse(c, err)
}

func errorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "ERR_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "ERR_METHOD_NOT_ALLOWED"
	case http.StatusUnauthorized:
		return "ERR_UNAUTHORIZED"
	case http.StatusBadRequest:
		return "ERR_BAD_REQUEST"
	default:
		return "ERR_HTTP"
	}
}
