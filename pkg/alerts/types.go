package alerts

import (
	"context"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/shopspring/decimal"
)

// Severity indicates how urgent an alert is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"  // Approaching budget limit
	SeverityCritical Severity = "critical" // At or near budget limit, or a spend spike
	SeverityExceeded Severity = "exceeded" // Budget limit exceeded
)

// Alert is an ephemeral budget event. It is not persisted beyond dispatch.
type Alert struct {
	Kind     model.AlertKind `json:"kind"`
	Severity Severity        `json:"severity"`
	Message  string          `json:"message"`
	// TriggeringValue is the cumulative total for budget alerts and the
	// window sum for spike alerts.
	TriggeringValue decimal.Decimal `json:"triggering_value"`
	LimitUSD        decimal.Decimal `json:"limit_usd"`
	Percent         float64         `json:"percent"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Channel delivers alerts to one destination.
type Channel interface {
	// Name returns the channel identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert Alert) error
}
