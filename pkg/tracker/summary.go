package tracker

import (
	"context"
	"iter"

	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/shopspring/decimal"
)

type summaryBuilder struct {
	s model.CostSummary
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{s: model.CostSummary{
		TotalCostUSD: decimal.Zero,
		ByAgent:      make(map[string]decimal.Decimal),
		ByModel:      make(map[string]decimal.Decimal),
		ByTier:       make(map[model.ModelTier]decimal.Decimal),
	}}
}

func (b *summaryBuilder) add(r model.CallRecord) {
	s := &b.s
	s.TotalCalls++
	if r.Success {
		s.SuccessfulCalls++
	}
	s.TotalCostUSD = s.TotalCostUSD.Add(r.CostUSD)
	s.TotalInputTokens += r.InputTokens
	s.TotalOutputTokens += r.OutputTokens
	s.TotalDurationSeconds += r.DurationSeconds

	s.ByAgent[r.Agent] = s.ByAgent[r.Agent].Add(r.CostUSD)
	s.ByModel[r.Model] = s.ByModel[r.Model].Add(r.CostUSD)
	s.ByTier[r.Tier] = s.ByTier[r.Tier].Add(r.CostUSD)

	if s.TimeRange.Start.IsZero() || r.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = r.Timestamp
	}
	if r.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = r.Timestamp
	}
}

func (b *summaryBuilder) result() model.CostSummary {
	if b.s.TotalCalls > 0 {
		b.s.SuccessRate = float64(b.s.SuccessfulCalls) / float64(b.s.TotalCalls)
	}
	return b.s
}

// Summarize aggregates records in a single pass. The per-agent, per-model
// and per-tier costs each sum exactly to the total. An empty input yields
// zero totals and a success rate of 0.
func Summarize(records []model.CallRecord) model.CostSummary {
	b := newSummaryBuilder()
	for _, r := range records {
		b.add(r)
	}
	return b.result()
}

// SummarizeSeq aggregates a record stream, stopping at the first error.
func SummarizeSeq(seq iter.Seq2[model.CallRecord, error]) (model.CostSummary, error) {
	b := newSummaryBuilder()
	for r, err := range seq {
		if err != nil {
			return model.CostSummary{}, err
		}
		b.add(r)
	}
	return b.result(), nil
}

// Summary streams the records matching filter through the aggregator
// without holding them all in memory.
func (s *CostStore) Summary(ctx context.Context, filter model.QueryFilter) (model.CostSummary, error) {
	return SummarizeSeq(s.Query(ctx, filter))
}
