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
)

func testConfig() Config {
	return Config{
		MinItems:              10,
		ErrorRateThreshold:    0.10,
		FallbackRateThreshold: 0.25,
		CostThresholdUSD:      5.0,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testConfig())

	snap := &MetricsSnapshot{
		ItemsTerminal:    100,
		ItemErrors:       5,
		ItemErrorRate:    0.05,
		ItemFallbacks:    10,
		ItemFallbackRate: 0.10,
		CostUSD:          1.0,
		SelectorCircuit:  "closed",
		Lookback:         24 * time.Hour,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ErrorRate(t *testing.T) {
	a := NewAlerter(testConfig())

	snap := &MetricsSnapshot{
		ItemsTerminal: 20,
		ItemErrors:    8,
		ItemErrorRate: 0.4,
		Lookback:      24 * time.Hour,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertItemErrorRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_TooFewItems(t *testing.T) {
	a := NewAlerter(testConfig())

	snap := &MetricsSnapshot{
		ItemsTerminal:    4,
		ItemErrors:       4,
		ItemErrorRate:    1.0,
		ItemFallbackRate: 1.0,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FallbackRate(t *testing.T) {
	a := NewAlerter(testConfig())

	snap := &MetricsSnapshot{
		ItemsTerminal:    40,
		ItemFallbacks:    20,
		ItemFallbackRate: 0.5,
		Lookback:         time.Hour,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSelectorFallback, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_Evaluate_CircuitOpen(t *testing.T) {
	a := NewAlerter(testConfig())

	alerts := a.Evaluate(&MetricsSnapshot{SelectorCircuit: "open"})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSelectorCircuitOpen, alerts[0].Type)

	assert.Empty(t, a.Evaluate(&MetricsSnapshot{SelectorCircuit: "half-open"}))
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(testConfig())

	alerts := a.Evaluate(&MetricsSnapshot{CostUSD: 7.5, JobsTotal: 3, Lookback: 24 * time.Hour})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$7.50")

	noCost := NewAlerter(Config{})
	assert.Empty(t, noCost.Evaluate(&MetricsSnapshot{CostUSD: 1000}))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertSelectorCircuitOpen, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	alerts := a.Evaluate(&MetricsSnapshot{SelectorCircuit: "open"})
	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(testConfig())
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}}))
}
