package observability_test

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/observability"
)

func TestDiagnosticsServer_EndpointsAndMetrics(t *testing.T) {
	t.Parallel()

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	em := srv.Metrics()
	require.NotNil(t, em)

	em.TaskStarted()
	em.TaskFinished("completed", 2*time.Second)
	em.SubtaskFinished("static", "", time.Second)
	em.SubtaskFinished("dynamic", "unreachable", time.Second)
	em.LeasesSwept(3)

	base := "http://" + srv.Addr()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, getErr := http.Get(base + path)
		require.NoError(t, getErr)

		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, getErr := http.Get(base + "/metrics")
	require.NoError(t, getErr)

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, readErr)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scrape := string(body)

	assert.Contains(t, scrape, "appaudit_tasks_total")
	assert.Contains(t, scrape, "appaudit_subtasks_total")
	assert.Contains(t, scrape, `error_kind="unreachable"`)
	assert.Contains(t, scrape, "appaudit_leases_swept_total")
}
