package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ogulcanaydogan/costwatch/pkg/alerts"
	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/pricing"
)

// DefaultAgent is used when a call names no agent.
const DefaultAgent = "default"

// Call is the raw data of one LLM invocation as reported by a caller.
type Call struct {
	Agent           string
	Model           string
	InputTokens     int64
	OutputTokens    int64
	DurationSeconds float64
	Success         bool
	TaskID          string
	CorrelationID   string
}

// Validate reports ErrInvalidCallData for negative counts or a duration
// that is negative or not a finite number.
func (c Call) Validate() error {
	if c.InputTokens < 0 || c.OutputTokens < 0 {
		return fmt.Errorf("%w: negative token count (input=%d output=%d)", model.ErrInvalidCallData, c.InputTokens, c.OutputTokens)
	}
	if c.DurationSeconds < 0 || math.IsNaN(c.DurationSeconds) || math.IsInf(c.DurationSeconds, 0) {
		return fmt.Errorf("%w: invalid duration %v", model.ErrInvalidCallData, c.DurationSeconds)
	}
	return nil
}

// Recorder is the main entry point for recording LLM calls. It prices each
// call and appends it to the cost store.
type Recorder struct {
	calculator *CostCalculator
	store      *CostStore
	logger     *slog.Logger
	metrics    *instruments
}

// NewRecorder creates a recorder with the given dependencies.
func NewRecorder(table *pricing.Table, store *CostStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		calculator: NewCostCalculator(table),
		store:      store,
		logger:     logger,
		metrics:    store.metrics,
	}
}

// Record validates, prices and persists a single call. Invalid input fails
// with ErrInvalidCallData before anything is stored or evaluated; storage
// failures wrap ErrPersistence.
func (r *Recorder) Record(ctx context.Context, call Call) (*model.CallRecord, error) {
	rec, _, err := r.RecordWithAlerts(ctx, call)
	return rec, err
}

// RecordWithAlerts is Record that also returns the alerts the call fired.
func (r *Recorder) RecordWithAlerts(ctx context.Context, call Call) (*model.CallRecord, []alerts.Alert, error) {
	if err := call.Validate(); err != nil {
		r.metrics.recordRejected(ctx, "invalid")
		return nil, nil, err
	}

	quote, err := r.calculator.Calculate(call.Model, call.InputTokens, call.OutputTokens)
	if err != nil {
		r.metrics.recordRejected(ctx, "pricing")
		return nil, nil, err
	}

	agent := call.Agent
	if agent == "" {
		agent = DefaultAgent
	}

	record := &model.CallRecord{
		Timestamp:       r.store.Now(),
		Agent:           agent,
		Model:           call.Model,
		Tier:            quote.Tier,
		InputTokens:     call.InputTokens,
		OutputTokens:    call.OutputTokens,
		CostUSD:         quote.CostUSD,
		DurationSeconds: call.DurationSeconds,
		Success:         call.Success,
		TaskID:          call.TaskID,
		CorrelationID:   call.CorrelationID,
	}

	stored, fired, err := r.store.Append(ctx, record)
	if err != nil {
		r.metrics.recordRejected(ctx, "persistence")
		return nil, nil, err
	}

	r.metrics.recordCall(ctx, stored)
	r.logger.Info("call recorded",
		"id", stored.ID,
		"agent", stored.Agent,
		"model", stored.Model,
		"tier", stored.Tier,
		"input_tokens", stored.InputTokens,
		"output_tokens", stored.OutputTokens,
		"cost_usd", stored.CostUSD.String(),
	)
	return stored, fired, nil
}

// Quote prices a call without recording it.
func (r *Recorder) Quote(modelName string, inputTokens, outputTokens int64) (Quote, error) {
	return r.calculator.Calculate(modelName, inputTokens, outputTokens)
}

// Store returns the underlying cost store.
func (r *Recorder) Store() *CostStore {
	return r.store
}
