package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/lobstream/internal/models"
)

func TestNotifierDisabledWithoutToken(t *testing.T) {
	n := NewTelegramNotifier("", "12345")
	assert.Nil(t, n.bot)

	// A disabled notifier must be safe to call.
	n.NotifyAnomalies(context.Background(), "s1", models.EnrichedSnapshot{
		Anomalies: []models.AnomalyEvent{
			{Type: models.AnomalySpoofing, Severity: models.SeverityCritical, Message: "x"},
		},
	})
}

func TestNotifierDisabledWithoutChatID(t *testing.T) {
	n := NewTelegramNotifier("token", "")
	assert.Nil(t, n.bot)
}

func TestFormatAnomalyAlert(t *testing.T) {
	snap := models.EnrichedSnapshot{
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		MidPrice:    100.25,
		Spread:      0.02,
		RegimeLabel: "Manipulation Suspected",
	}
	ev := models.AnomalyEvent{
		Type:     models.AnomalySpoofing,
		Severity: models.SeverityCritical,
		Message:  "Possible spoofing on bid",
	}

	text := formatAnomalyAlert("session-1", snap, ev)
	assert.Contains(t, text, "SPOOFING")
	assert.Contains(t, text, "Possible spoofing on bid")
	assert.Contains(t, text, "session-1")
	assert.Contains(t, text, "100.25")
	assert.Contains(t, text, "Manipulation Suspected")
}
