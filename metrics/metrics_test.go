package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.ObserveLaunch("boost", nil)
	m.ObserveLaunch("boost", nil)
	m.ObserveLaunch("vote_mix", errors.New("rejected"))
	m.ObservePoll(nil)
	m.ObservePoll(errors.New("timeout"))
	m.ObserveTransition("running")
	m.WorkflowStarted()
	m.WorkflowStarted()
	m.WorkflowFinished("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Launches.WithLabelValues("boost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LaunchFailures.WithLabelValues("vote_mix")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Polls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskTransitions.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveWorkflows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowsFinished.WithLabelValues("completed")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLaunch("boost", nil)
		m.ObservePoll(nil)
		m.ObserveTransition("failed")
		m.WorkflowStarted()
		m.WorkflowFinished("failed")
	})
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveLaunch("boost", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ensemble_task_launches_total{task_type="boost"} 1`))
}
