package errors

import "net/http"

// HTTPStatus maps the Code of the given error to an HTTP status code for the
// API boundary.
func HTTPStatus(err error) int {
	e, _ := Cast(err)
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
