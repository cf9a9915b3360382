package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/observability"
)

func TestHealthHandler_AlwaysOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	observability.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyHandler_PassingChecks(t *testing.T) {
	t.Parallel()

	handler := observability.ReadyHandler(
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandler_FailingCheck(t *testing.T) {
	t.Parallel()

	handler := observability.ReadyHandler(
		func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("store unavailable") },
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestReadyHandler_NoChecks(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	observability.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}
