package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsa-maps/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNoSnapshot   AlertType = "no_snapshot"
	AlertStaleData    AlertType = "stale_data"
	AlertHighSkipRate AlertType = "high_skip_rate"
	AlertFeedOffline  AlertType = "feed_offline"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	now := time.Now().UTC()

	if !snap.HasCurrent {
		return []Alert{{
			Type:      AlertNoSnapshot,
			Severity:  "high",
			Message:   "No current data snapshot; the API is serving no businesses",
			Timestamp: now,
		}}
	}

	var alerts []Alert

	if a.cfg.MaxDataAgeDays > 0 && snap.DataAgeDays > a.cfg.MaxDataAgeDays {
		alerts = append(alerts, Alert{
			Type:     AlertStaleData,
			Severity: "medium",
			Message: fmt.Sprintf("Data is %d days old, exceeds %d day limit (downloaded %s)",
				snap.DataAgeDays, a.cfg.MaxDataAgeDays, snap.DownloadDate.Format("2006-01-02")),
			Details: map[string]any{
				"data_age_days": snap.DataAgeDays,
				"max_days":      a.cfg.MaxDataAgeDays,
			},
			Timestamp: now,
		})
	}

	if a.cfg.SkipRateThreshold > 0 && snap.TotalRecords > 0 && snap.SkipRate > a.cfg.SkipRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertHighSkipRate,
			Severity: "medium",
			Message: fmt.Sprintf("Last refresh skipped %.1f%% of rows, exceeds threshold %.1f%%",
				snap.SkipRate*100, a.cfg.SkipRateThreshold*100),
			Details: map[string]any{
				"skip_rate":        snap.SkipRate,
				"threshold":        a.cfg.SkipRateThreshold,
				"total_records":    snap.TotalRecords,
				"imported_records": snap.ImportedRecords,
			},
			Timestamp: now,
		})
	}

	// Every recent run fell back to the cache: the feed URL is unreachable.
	if snap.RecentRuns >= 2 && snap.RecentLocalRuns == snap.RecentRuns {
		alerts = append(alerts, Alert{
			Type:     AlertFeedOffline,
			Severity: "low",
			Message: fmt.Sprintf("All %d refreshes in last %dh used the local cache",
				snap.RecentRuns, snap.LookbackHours),
			Details: map[string]any{
				"recent_runs": snap.RecentRuns,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
