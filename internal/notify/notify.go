// Package notify delivers high-edge signal alerts to Telegram.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// Notifier receives created signals.
type Notifier interface {
	NotifySignal(ctx context.Context, sig model.Signal) error
}

// Nop discards every signal. Used when Telegram is disabled.
type Nop struct{}

// NotifySignal implements Notifier.
func (Nop) NotifySignal(context.Context, model.Signal) error { return nil }

// sender is the subset of *tgbotapi.BotAPI used here.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends HIGH-confidence signals to a single chat.
type Telegram struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegram creates a Telegram notifier. endpoint may be empty for the
// public Bot API; otherwise it is a tgbotapi endpoint format string.
func NewTelegram(botToken string, chatID int64, endpoint string) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &Telegram{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     3,
		retryDelayBase: time.Second,
	}, nil
}

// NotifySignal sends sig if its confidence is HIGH. Lower tiers are ignored.
func (t *Telegram) NotifySignal(ctx context.Context, sig model.Signal) error {
	if sig.Confidence != model.ConfidenceHigh {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, formatSignal(sig))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			slog.Info("signal alert sent", "signal_id", sig.ID, "market_id", sig.MarketID)
			return nil
		}
		lastErr = err
		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed to send signal alert after %d retries: %w", t.maxRetries, lastErr)
}

func formatSignal(sig model.Signal) string {
	var b strings.Builder
	b.WriteString("⛈ *High weather edge*\n\n")
	b.WriteString(escapeMarkdownV2(sig.Title))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Edge score: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.1f", sig.EdgeScore)))
	fmt.Fprintf(&b, "Weather impact: %s\n", escapeMarkdownV2(sig.WeatherImpact))
	fmt.Fprintf(&b, "Odds: %s\n", escapeMarkdownV2(sig.OddsEfficiency))
	if sig.EventType != "" {
		fmt.Fprintf(&b, "Event: %s\n", escapeMarkdownV2(sig.EventType))
	}
	if sig.Reasoning != "" {
		b.WriteString("\n")
		b.WriteString(escapeMarkdownV2(truncate(sig.Reasoning, 600)))
	}
	return b.String()
}

// escapeMarkdownV2 escapes the characters Telegram reserves in MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
