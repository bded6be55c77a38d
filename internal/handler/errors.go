package handler

import (
	"errors"
	"net/http"

	"tagengine/internal/models"
)

// statusFor maps domain errors onto HTTP status codes. Unknown errors
// are treated as structural failures.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrTagNotFound),
		errors.Is(err, models.ErrImageNotFound),
		errors.Is(err, models.ErrImplicationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSelfImplication),
		errors.Is(err, models.ErrEmptyTagName):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientSamples):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
