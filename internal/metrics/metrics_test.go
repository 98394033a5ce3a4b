package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("tempo")

	m.RecordStage("parse", "inserted")
	m.RecordStage("parse", "inserted")
	m.RecordStage("parse", "skipped")
	m.RecordSearchTasks("submitted", 5)
	m.RecordSearchTasks("submitted", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stageRecords.WithLabelValues("parse", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageRecords.WithLabelValues("parse", "skipped")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.searchTasks.WithLabelValues("submitted")))

	m.SetQuotaRemaining(10, 200)
	assert.Equal(t, 200.0, testutil.ToFloat64(m.quotaRemaining.WithLabelValues("monthly")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStage("fetch", "failed")
		m.RecordGeocode("call")
		m.RecordEnrichment("http", "processed")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("tempo")
	m.RecordGeocode("cache_hit")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tempo_geocode_lookups_total{result="cache_hit"} 1`)
}
