package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fsa-maps/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		MaxDataAgeDays:    14,
		SkipRateThreshold: 0.10,
	}
}

func healthySnapshot() *Snapshot {
	return &Snapshot{
		HasCurrent:      true,
		DownloadDate:    time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		DataAgeDays:     1,
		TotalRecords:    1000,
		ImportedRecords: 980,
		SkipRate:        0.02,
		RecentRuns:      3,
		RecentLocalRuns: 1,
		LookbackHours:   168,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	alerts := NewAlerter(thresholds()).Evaluate(healthySnapshot())
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_NoSnapshot(t *testing.T) {
	alerts := NewAlerter(thresholds()).Evaluate(&Snapshot{HasCurrent: false, RecentRuns: 5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoSnapshot, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestAlerter_Evaluate_StaleData(t *testing.T) {
	snap := healthySnapshot()
	snap.DataAgeDays = 20

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleData, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "20 days old")
}

func TestAlerter_Evaluate_HighSkipRate(t *testing.T) {
	snap := healthySnapshot()
	snap.SkipRate = 0.25

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertHighSkipRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "25.0%")
}

func TestAlerter_Evaluate_FeedOffline(t *testing.T) {
	snap := healthySnapshot()
	snap.RecentLocalRuns = snap.RecentRuns

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFeedOffline, alerts[0].Type)
	assert.Equal(t, "low", alerts[0].Severity)
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	snap := healthySnapshot()
	snap.DataAgeDays = 400
	snap.SkipRate = 0.9

	alerts := NewAlerter(config.MonitoringConfig{}).Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	snap := healthySnapshot()
	snap.DataAgeDays = 30
	snap.SkipRate = 0.5
	snap.RecentLocalRuns = snap.RecentRuns

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertStaleData])
	assert.True(t, types[AlertHighSkipRate])
	assert.True(t, types[AlertFeedOffline])
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var lastAlert Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&lastAlert))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	alerts := a.Evaluate(&Snapshot{})
	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, AlertNoSnapshot, lastAlert.Type)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(thresholds())
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleData}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertStaleData}, {Type: AlertHighSkipRate}})
	assert.Equal(t, 0, sent)
}
