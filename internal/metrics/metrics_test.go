package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums every sample of the named metric whose labels include want.
func counterValue(t *testing.T, g prometheus.Gatherer, name string, want map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				total += float64(h.GetSampleCount())
			}
		}
	}
	return total
}

func TestMetricsManager(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsManager(reg)

	m.ApprovalAction("approve", "success")
	m.ApprovalAction("approve", "success")
	m.ApprovalAction("revoke", "rejected")
	m.CommitOutcome("committed")
	m.TasksSwept(3)
	m.TasksSwept(0)
	m.Duration("commit", 12*time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, reg, "taskflow_approval_actions_total", map[string]string{"action": "approve", "result": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "taskflow_approval_actions_total", map[string]string{"action": "revoke"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "taskflow_commit_outcomes_total", map[string]string{"outcome": "committed"}))
	assert.Equal(t, 3.0, counterValue(t, reg, "taskflow_completed_tasks_swept_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "taskflow_operation_duration_milliseconds", map[string]string{"operation": "commit"}))
}

func TestWithHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := WithHTTPMetrics(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/base/approve/1", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "taskflow_http_requests_total", map[string]string{"method": "post", "code": "418"}))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "taskflow_http_requests_total"))
	assert.NotContains(t, rec.Body.String(), "service_taskflow_")
}
