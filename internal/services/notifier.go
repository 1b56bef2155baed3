package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/lobstream/internal/models"
)

// notifyCooldown suppresses repeat alerts for the same anomaly type per
// session so a persistent condition does not flood the channel.
const notifyCooldown = 30 * time.Second

// TelegramNotifier pushes critical anomalies to a Telegram chat. With
// no token configured it degrades to a no-op.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID string
	log    *logrus.Entry

	lastSent map[string]time.Time
}

// NewTelegramNotifier creates the notifier. An empty token or chat id
// disables it.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	n := &TelegramNotifier{
		chatID:   chatID,
		log:      logrus.WithField("component", "telegram-notifier"),
		lastSent: make(map[string]time.Time),
	}
	if token == "" || chatID == "" {
		n.log.Info("Telegram notifications disabled")
		return n
	}
	b, err := bot.New(token)
	if err != nil {
		n.log.WithError(err).Warn("Failed to initialize Telegram bot, notifications disabled")
		return n
	}
	n.bot = b
	return n
}

// NotifyAnomalies sends one message per critical anomaly in the
// snapshot, subject to the per-type cooldown. Called from the
// orchestrator goroutine only.
func (n *TelegramNotifier) NotifyAnomalies(ctx context.Context, sessionID string, snap models.EnrichedSnapshot) {
	if n.bot == nil {
		return
	}
	now := time.Now()
	for _, a := range snap.Anomalies {
		if a.Severity != models.SeverityCritical {
			continue
		}
		key := sessionID + ":" + a.Type
		if last, ok := n.lastSent[key]; ok && now.Sub(last) < notifyCooldown {
			continue
		}
		n.lastSent[key] = now

		text := formatAnomalyAlert(sessionID, snap, a)
		if _, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: n.chatID,
			Text:   text,
		}); err != nil {
			n.log.WithError(err).Warn("Failed to send Telegram alert")
		}
	}
}

func formatAnomalyAlert(sessionID string, snap models.EnrichedSnapshot, a models.AnomalyEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s\n", a.Type)
	fmt.Fprintf(&b, "%s\n", a.Message)
	fmt.Fprintf(&b, "Session: %s\n", sessionID)
	fmt.Fprintf(&b, "Mid: %.2f  Spread: %.4f  Regime: %s\n", snap.MidPrice, snap.Spread, snap.RegimeLabel)
	fmt.Fprintf(&b, "Time: %s", snap.Timestamp.Format(time.RFC3339))
	return b.String()
}
