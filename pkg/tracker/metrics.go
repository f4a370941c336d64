package tracker

import (
	"context"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// instruments are no-ops until the host process installs a MeterProvider.
type instruments struct {
	calls    otelmetric.Int64Counter
	tokens   otelmetric.Int64Counter
	cost     otelmetric.Float64Counter
	rejected otelmetric.Int64Counter
	alerts   otelmetric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter("github.com/ogulcanaydogan/costwatch/pkg/tracker")
	in := &instruments{}
	if ctr, err := meter.Int64Counter(
		"costwatch.calls",
		otelmetric.WithDescription("Recorded LLM calls"),
	); err == nil {
		in.calls = ctr
	}
	if ctr, err := meter.Int64Counter(
		"costwatch.tokens",
		otelmetric.WithDescription("Tokens consumed by recorded calls"),
	); err == nil {
		in.tokens = ctr
	}
	if ctr, err := meter.Float64Counter(
		"costwatch.cost",
		otelmetric.WithDescription("Cost of recorded calls"),
		otelmetric.WithUnit("USD"),
	); err == nil {
		in.cost = ctr
	}
	if ctr, err := meter.Int64Counter(
		"costwatch.calls.rejected",
		otelmetric.WithDescription("Calls rejected before persistence"),
	); err == nil {
		in.rejected = ctr
	}
	if ctr, err := meter.Int64Counter(
		"costwatch.budget.alerts",
		otelmetric.WithDescription("Budget alerts emitted by kind"),
	); err == nil {
		in.alerts = ctr
	}
	return in
}

func (in *instruments) recordCall(ctx context.Context, rec *model.CallRecord) {
	attrs := otelmetric.WithAttributes(
		attribute.String("agent", rec.Agent),
		attribute.String("tier", string(rec.Tier)),
	)
	if in.calls != nil {
		in.calls.Add(ctx, 1, attrs)
	}
	if in.tokens != nil {
		in.tokens.Add(ctx, rec.InputTokens, attrs, otelmetric.WithAttributes(attribute.String("direction", "input")))
		in.tokens.Add(ctx, rec.OutputTokens, attrs, otelmetric.WithAttributes(attribute.String("direction", "output")))
	}
	if in.cost != nil {
		in.cost.Add(ctx, rec.CostUSD.InexactFloat64(), attrs)
	}
}

func (in *instruments) recordRejected(ctx context.Context, reason string) {
	if in.rejected != nil {
		in.rejected.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (in *instruments) recordAlert(ctx context.Context, kind model.AlertKind) {
	if in.alerts != nil {
		in.alerts.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", string(kind))))
	}
}
