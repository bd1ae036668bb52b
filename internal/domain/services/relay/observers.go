package relay

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	"github.com/rail-service/payroll_relay/internal/domain/repositories"
	"github.com/rail-service/payroll_relay/pkg/metrics"
)

// LogObserver writes one structured line per transition
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a transition logger
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) OnTransition(ctx context.Context, run *entities.RelayRun, event entities.RelayEvent) {
	fields := []zap.Field{
		zap.String("run_id", event.RunID.String()),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
		zap.Duration("elapsed", event.Elapsed),
	}
	if event.PlanName != "" {
		fields = append(fields, zap.String("plan", event.PlanName))
	}
	if event.SourceTxHash != "" {
		fields = append(fields, zap.String("source_tx_hash", event.SourceTxHash))
	}
	if event.TxHash != "" {
		fields = append(fields, zap.String("tx_hash", event.TxHash))
	}
	if len(event.TxHashes) > 0 {
		fields = append(fields, zap.Strings("stage_tx_hashes", event.TxHashes))
	}
	if event.GasUsed > 0 {
		fields = append(fields, zap.Uint64("gas_used", event.GasUsed))
	}
	if event.To == entities.RelayStateFailed {
		fields = append(fields,
			zap.String("failure_code", run.FailureCode),
			zap.String("reason", event.Reason))
		l.logger.Error("Relay state transition", fields...)
		return
	}
	l.logger.Info("Relay state transition", fields...)
}

// MetricsObserver feeds transitions into Prometheus
type MetricsObserver struct{}

func (MetricsObserver) OnTransition(ctx context.Context, run *entities.RelayRun, event entities.RelayEvent) {
	if event.From == "" {
		metrics.RunStarted()
	} else {
		metrics.ObserveStage(string(event.From), event.Elapsed)
	}
	metrics.RecordTransition(string(event.From), string(event.To))
	if event.GasUsed > 0 {
		metrics.AddGasUsed(string(event.From), event.GasUsed)
	}
	if event.To.IsTerminal() {
		metrics.RecordOutcome(string(event.To), run.FailureCode)
		metrics.RunFinished()
	}
}

// TracingObserver records transitions as events on the active span
type TracingObserver struct{}

func (TracingObserver) OnTransition(ctx context.Context, run *entities.RelayRun, event entities.RelayEvent) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("run_id", event.RunID.String()),
		attribute.String("from", string(event.From)),
		attribute.String("to", string(event.To)),
		attribute.Int64("elapsed_ms", event.Elapsed.Milliseconds()),
	}
	if event.TxHash != "" {
		attrs = append(attrs, attribute.String("tx_hash", event.TxHash))
	}
	if len(event.TxHashes) > 0 {
		attrs = append(attrs, attribute.StringSlice("stage_tx_hashes", event.TxHashes))
	}
	if event.GasUsed > 0 {
		attrs = append(attrs, attribute.Int64("gas_used", int64(event.GasUsed)))
	}
	if event.Reason != "" {
		attrs = append(attrs, attribute.String("reason", event.Reason))
	}
	span.AddEvent("relay.transition", trace.WithAttributes(attrs...))
}

// JournalObserver records the last observed state of every run so an
// operator can find where a failed run stopped
type JournalObserver struct {
	repo   repositories.RelayRunRepository
	logger *zap.Logger
}

// NewJournalObserver creates a journal writer
func NewJournalObserver(repo repositories.RelayRunRepository, logger *zap.Logger) *JournalObserver {
	return &JournalObserver{repo: repo, logger: logger}
}

func (j *JournalObserver) OnTransition(ctx context.Context, run *entities.RelayRun, event entities.RelayEvent) {
	var err error
	if event.From == "" {
		err = j.repo.Create(ctx, run)
	} else {
		err = j.repo.Update(ctx, run)
	}
	if err != nil {
		j.logger.Error("Failed to journal relay run",
			zap.String("run_id", run.ID.String()),
			zap.String("state", string(run.State)),
			zap.Error(err))
	}
}
