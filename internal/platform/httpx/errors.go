// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
	ErrBadRequest = errors.New("malformed request")
)

// Rule maps a domain error to a problem response.
type Rule struct {
	Err       error
	Status    int
	Title     string
	Retryable bool
}

// RespondError maps err to an RFC7807 response. Package-specific rules are
// checked in order before the transport sentinels.
func RespondError(w http.ResponseWriter, err error, rules ...Rule) {
	var fields FieldErrors
	if errors.As(err, &fields) {
		WriteProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: err.Error(),
			Fields: fields,
		})
		return
	}
	for _, rule := range rules {
		if errors.Is(err, rule.Err) {
			WriteProblem(w, ProblemDetail{
				Title:     rule.Title,
				Status:    rule.Status,
				Detail:    err.Error(),
				Retryable: rule.Retryable,
			})
			return
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
