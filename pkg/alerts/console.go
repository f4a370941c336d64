package alerts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	exceededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#B91C1C")).Bold(true)
)

func severityStyle(s Severity) lipgloss.Style {
	switch s {
	case SeverityWarning:
		return warningStyle
	case SeverityCritical:
		return criticalStyle
	case SeverityExceeded:
		return exceededStyle
	default:
		return infoStyle
	}
}

// ConsoleChannel logs every alert and prints a styled line to a terminal.
// It is always enabled.
type ConsoleChannel struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

// NewConsoleChannel creates a console channel writing to out. A nil out
// writes to stderr.
func NewConsoleChannel(logger *slog.Logger, out io.Writer) *ConsoleChannel {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleChannel{out: out, logger: logger}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelWarn
	if alert.Severity == SeverityCritical || alert.Severity == SeverityExceeded {
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, "budget alert",
		"kind", alert.Kind,
		"severity", alert.Severity,
		"value_usd", alert.TriggeringValue.String(),
		"limit_usd", alert.LimitUSD.String(),
		"percent", alert.Percent,
		"message", alert.Message,
	)

	tag := severityStyle(alert.Severity).Render(fmt.Sprintf("[%s]", alert.Severity))
	line := fmt.Sprintf("%s %s %s\n", alert.Timestamp.UTC().Format("15:04:05"), tag, alert.Message)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, line); err != nil {
		return fmt.Errorf("write console alert: %w", err)
	}
	return nil
}
