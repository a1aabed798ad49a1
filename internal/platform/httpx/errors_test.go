package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryErr struct{ after time.Duration }

func (e retryErr) Error() string { return "slow down" }
func (e retryErr) Unwrap() error { return ErrRateLimited }
func (e retryErr) RetryAfter() time.Duration { return e.after }

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("admin: %w", ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("admin: %w", ErrForbidden), http.StatusForbidden},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrBadRequest, http.StatusBadRequest},
		{ErrServiceUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestRespondErrorForbiddenHidesDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("missing roles.assign: %w", ErrForbidden))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Empty(t, body.Detail)
	assert.NotContains(t, rr.Body.String(), "roles.assign")
}

func TestRespondErrorSetsRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, retryErr{after: 1500 * time.Millisecond})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}
