package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"benchtrack/internal/report"
)

// Manager fans a regression alert out to every configured provider.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a Manager over the given notifiers.
func NewManager(notifiers ...Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// NewManagerFromEnv enables Slack when SLACK_WEBHOOK_URL (or
// SLACK_BOT_USER_TOKEN with SLACK_CHANNEL) is set, and Discord when
// DISCORD_WEBHOOK_URL is set.
func NewManagerFromEnv() *Manager {
	m := &Manager{}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		m.notifiers = append(m.notifiers, NewSlackNotifier(url))
	} else if token := os.Getenv("SLACK_BOT_USER_TOKEN"); token != "" {
		m.notifiers = append(m.notifiers, NewSlackBotNotifier(token, os.Getenv("SLACK_CHANNEL")))
	}
	if url := os.Getenv("DISCORD_WEBHOOK_URL"); url != "" {
		m.notifiers = append(m.notifiers, NewDiscordNotifier(url))
	}
	return m
}

// Enabled reports whether any provider is configured.
func (m *Manager) Enabled() bool {
	return len(m.notifiers) > 0
}

// NotifyRegression sends an alert for r when it contains a regression. Every
// provider is attempted; failures are joined.
func (m *Manager) NotifyRegression(ctx context.Context, r report.Report, meta report.Meta) error {
	if !r.AnyRegression || !m.Enabled() {
		return nil
	}
	msg := BuildMessage(r, meta)

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			slog.Error("Failed to send notification", "provider", n.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		slog.Debug("Notification sent", "provider", n.Name())
	}
	return errors.Join(errs...)
}

// BuildMessage summarizes a report for chat providers.
func BuildMessage(r report.Report, meta report.Meta) Message {
	series := meta.Series
	if series == "" {
		series = meta.Tool
	}
	regs := r.Regressions()
	text := fmt.Sprintf("%d of %d benchmarks in *%s* regressed", len(regs), r.Summary.Total, series)
	if meta.Commit.ID != "" {
		text += fmt.Sprintf(" at `%s`", meta.Commit.ID)
	}
	text += ":"
	const maxListed = 10
	for i, d := range regs {
		if i == maxListed {
			text += fmt.Sprintf("\n• ... and %d more", len(regs)-maxListed)
			break
		}
		text += fmt.Sprintf("\n• `%s` %+.2f%%", d.Name, d.RelativeChange*100)
	}
	return Message{
		Title:    "Performance Alert: " + series,
		Text:     text,
		Markdown: report.Markdown(r, meta),
		URL:      meta.Commit.URL,
	}
}
