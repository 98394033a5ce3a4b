package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/app"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/metrics"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/ternarybob/tempo/internal/queue"
	"github.com/ternarybob/tempo/internal/services/scheduler"
	"github.com/ternarybob/tempo/internal/services/venues"
	"github.com/ternarybob/tempo/internal/storage/badger"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	logger := arbor.NewLogger()
	cfg := common.NewDefaultConfig()
	cfg.Queue.Backend = "badger"
	cfg.Queue.Path = t.TempDir()

	sm, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sm.Close() })

	queues, err := queue.NewSet(context.Background(), logger, &cfg.Queue)
	require.NoError(t, err)
	t.Cleanup(func() { _ = queues.Close() })

	return &app.App{
		Config:           cfg,
		Logger:           logger,
		StorageManager:   sm,
		Queues:           queues,
		Metrics:          metrics.New("tempo_test"),
		VenueResolver:    venues.NewResolver(nil, sm.VenueCacheStorage(), &cfg.Geocoding, nil, logger),
		SchedulerService: scheduler.NewService(logger),
	}
}

func TestHealth(t *testing.T) {
	srv := New(newTestApp(t))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatus(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	metroID := int64(1)
	for _, id := range []string{"a", "b"} {
		id := id
		_, err := a.StorageManager.EventStorage().InsertRaw(ctx, &models.RawEventRecord{
			Source:        models.SourceJSONLDScrape,
			SourceEventID: &id,
			MetroID:       &metroID,
			Payload:       json.RawMessage(`{"name":"x"}`),
			DiscoveredAt:  time.Now(),
			ParsedAt:      ptrTime(time.Now()),
		})
		require.NoError(t, err)
	}
	require.NoError(t, a.Queues.URLs.Push(ctx, []byte(`{"url":"https://example.com"}`)))
	require.NoError(t, a.SchedulerService.RegisterJob("recovery", "0 */15 * * * *", func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	New(a).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Events)
	assert.Equal(t, 2, resp.Events.Awaiting)
	assert.Equal(t, int64(1), resp.Queues["url_queue"])
	assert.Equal(t, int64(0), resp.Queues["jsonld_raw"])
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "recovery", resp.Jobs[0].Name)
}

func TestUsage(t *testing.T) {
	a := newTestApp(t)

	rec := httptest.NewRecorder()
	New(a).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.UsageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "google_places", stats.APIName)
	assert.Equal(t, 8000, stats.MonthlyLimit)
	assert.Equal(t, 266, stats.DailyLimit)
	assert.Equal(t, 0, stats.DailyUsage)
}

func TestMetrics(t *testing.T) {
	a := newTestApp(t)
	a.Metrics.RecordStage("parse", "inserted")

	rec := httptest.NewRecorder()
	New(a).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tempo_test_"), "namespace prefix in exposition")
}

func TestTriggerJob(t *testing.T) {
	a := newTestApp(t)
	ran := make(chan struct{}, 1)
	require.NoError(t, a.SchedulerService.RegisterJob("requeue", "0 0 * * * *", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	srv := New(a)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/requeue/run", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not triggered")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/missing/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/requeue/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func ptrTime(t time.Time) *time.Time { return &t }
