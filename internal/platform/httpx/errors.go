// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation failed")
	ErrBadRequest         = errors.New("bad request")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// RetryAfterError is implemented by errors that know when a retry may succeed.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Unauthorized and forbidden bodies are fixed so callers never learn which
// permission was checked.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, ErrRateLimited):
		var ra RetryAfterError
		if errors.As(err, &ra) && ra.RetryAfter() > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ra.RetryAfter().Seconds()))))
		}
		Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded, retry later")
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrServiceUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
