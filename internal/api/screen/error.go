package screen

import (
	"net/http"

	"PaperDetection/pkg/response"
)

var (
	ErrInternalServerError = response.NewError(http.StatusInternalServerError, "internal server error")
	ErrBadRequest          = response.NewError(http.StatusBadRequest, "bad request")
	ErrScreenNotFound      = response.NewError(http.StatusNotFound, "screen not found")
	ErrStillNotFound       = response.NewError(http.StatusNotFound, "no still captured yet")
	ErrPermissionDenied    = response.NewError(http.StatusForbidden, "No access to camera")
	ErrTooManyScreens      = response.NewError(http.StatusServiceUnavailable, "too many screens mounted")
)
