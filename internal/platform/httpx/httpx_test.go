package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/backoffice/internal/shared"
)

func TestRespondErrorStatus(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"validation":   {shared.Invalid("amount", "must be positive"), http.StatusBadRequest},
		"overpayment":  {fmt.Errorf("ledger: add installment: %w", shared.ErrOverpayment), http.StatusUnprocessableEntity},
		"denied":       {shared.ErrPermissionDenied, http.StatusForbidden},
		"not found":    {shared.ErrNotFound, http.StatusNotFound},
		"conflict":     {shared.ErrVersionConflict, http.StatusConflict},
		"confirmation": {shared.ErrConfirmationRequired, http.StatusPreconditionRequired},
		"persistence":  {shared.Persistence("put", errors.New("dial tcp: refused")), http.StatusServiceUnavailable},
		"unknown":      {errors.New("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var p ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tc.status, p.Status)
		})
	}
}

func TestPersistenceDetailHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.Persistence("put", errors.New("password=hunter2")))
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestDecodeJSON(t *testing.T) {
	type input struct {
		Name string `json:"name" validate:"required"`
	}
	var in input
	err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`)), &in)
	require.ErrorIs(t, err, shared.ErrValidation)

	err = DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)), &in)
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Anita"}`)), &in))
	assert.Equal(t, "Anita", in.Name)
}
