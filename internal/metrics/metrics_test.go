package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEngineRun("keyword", nil, time.Second)
		m.RecordRecommendation("keyword", "increase")
		m.RecordSkip("keyword", "cooldown")
		m.RecordAnalyzed("keyword", 3)
		m.RecordNegatives(2)
		m.RecordDetection(map[string]int{"sp": 1}, nil)
		m.RecordAppliedChange()
		m.RecordWeightUpdate(true)
		m.RecordWeightCache(false)
		m.UpdateDBStats(1, 2, 3)
		m.RecordRateLimitHit("compute")
	})
}

func TestRecorders(t *testing.T) {
	m := NewMetrics("bidopt", prometheus.NewRegistry())

	m.RecordEngineRun("keyword", nil, 10*time.Millisecond)
	m.RecordEngineRun("keyword", errors.New("boom"), time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineRuns.WithLabelValues("keyword", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineRuns.WithLabelValues("keyword", "error")))

	m.RecordDetection(map[string]int{"sp": 3, "sb": 1}, nil)
	m.RecordDetection(nil, errors.New("down"))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DetectionChanges.WithLabelValues("sp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectionRuns.WithLabelValues("error")))

	m.UpdateDBStats(4, 6, 10)
	assert.Equal(t, 6.0, testutil.ToFloat64(m.DBConnections.WithLabelValues("in_use")))

	m.RecordAnalyzed("placement", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.TargetsAnalyzed.WithLabelValues("placement")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics("bidopt", prometheus.NewRegistry())
	m.RecordAppliedChange()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bidopt_applied_changes_total 1")
}
