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

	"github.com/sells-group/boq-resolver/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertItemErrorRate       AlertType = "item_error_rate"
	AlertSelectorFallback    AlertType = "selector_fallback_rate"
	AlertSelectorCircuitOpen AlertType = "selector_circuit_open"
	AlertCostOverrun         AlertType = "cost_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    Config
	client *http.Client
}

// NewAlerter creates a new Alerter with the given config.
func NewAlerter(cfg Config) *Alerter {
	if cfg.MinItems <= 0 {
		cfg.MinItems = 10
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Rate alerts need at least MinItems finished items to fire.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	enough := snap.ItemsTerminal >= a.cfg.MinItems

	if enough && a.cfg.ErrorRateThreshold > 0 && snap.ItemErrorRate > a.cfg.ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertItemErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Item error rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %s)",
				snap.ItemErrorRate*100, a.cfg.ErrorRateThreshold*100,
				snap.ItemErrors, snap.ItemsTerminal, snap.Lookback,
			),
			Details: map[string]any{
				"error_rate": snap.ItemErrorRate,
				"threshold":  a.cfg.ErrorRateThreshold,
				"failed":     snap.ItemErrors,
				"finished":   snap.ItemsTerminal,
			},
			Timestamp: now,
		})
	}

	if enough && a.cfg.FallbackRateThreshold > 0 && snap.ItemFallbackRate > a.cfg.FallbackRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSelectorFallback,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Selector fallback rate %.1f%% exceeds threshold %.1f%% (%d of %d items in last %s)",
				snap.ItemFallbackRate*100, a.cfg.FallbackRateThreshold*100,
				snap.ItemFallbacks, snap.ItemsTerminal, snap.Lookback,
			),
			Details: map[string]any{
				"fallback_rate": snap.ItemFallbackRate,
				"threshold":     a.cfg.FallbackRateThreshold,
				"fallbacks":     snap.ItemFallbacks,
			},
			Timestamp: now,
		})
	}

	if snap.SelectorCircuit == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:      AlertSelectorCircuitOpen,
			Severity:  "high",
			Message:   "Selector circuit is open; escalations fall back to local candidates",
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Selector cost $%.2f exceeds threshold $%.2f in last %s",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.Lookback,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"jobs_total":    snap.JobsTotal,
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
