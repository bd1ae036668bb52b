package payroll_scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	"github.com/rail-service/payroll_relay/pkg/metrics"
)

const defaultRunTimeout = 30 * time.Minute

// PlanRunner executes one plan file end to end
type PlanRunner interface {
	RunPlanFile(ctx context.Context, path string) (*entities.Outcome, error)
}

// Job schedules a plan file. Schedule is a cron spec with optional seconds
// or a descriptor such as @daily or @every 1h.
type Job struct {
	Plan     string
	Schedule string
}

// Worker runs payroll plans on cron schedules. A plan whose previous run is
// still in flight is skipped, and independent plans run concurrently.
// Every run derives from the worker's root context, which Stop cancels.
type Worker struct {
	runner  PlanRunner
	jobs    []Job
	cron    *cron.Cron
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(runner PlanRunner, jobs []Job, logger *zap.Logger) *Worker {
	cronLog := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		runner: runner,
		jobs:   jobs,
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
			cron.WithLogger(cronLog),
		),
		timeout: defaultRunTimeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers every job and starts the scheduler
func (w *Worker) Start() error {
	for _, job := range w.jobs {
		job := job
		if _, err := w.cron.AddFunc(job.Schedule, func() { w.RunNow(job.Plan) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Plan, job.Schedule, err)
		}
		w.logger.Info("Payroll plan scheduled",
			zap.String("plan", job.Plan),
			zap.String("schedule", job.Schedule))
	}

	w.cron.Start()
	w.logger.Info("Payroll scheduler started", zap.Int("jobs", len(w.jobs)))
	return nil
}

// RunNow executes one plan synchronously
func (w *Worker) RunNow(plan string) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	start := time.Now()
	outcome, err := w.runner.RunPlanFile(ctx, plan)
	metrics.RecordSchedulerRun(plan, err == nil)
	if err != nil {
		fields := []zap.Field{
			zap.String("plan", plan),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		}
		if outcome != nil && outcome.SourceTxHash != "" {
			fields = append(fields, zap.String("resume_tx_hash", outcome.SourceTxHash))
		}
		w.logger.Error("Scheduled payroll run failed", fields...)
		return
	}

	w.logger.Info("Scheduled payroll run finished",
		zap.String("plan", plan),
		zap.String("state", string(outcome.State)),
		zap.String("source_tx_hash", outcome.SourceTxHash),
		zap.Duration("elapsed", time.Since(start)))
}

// Stop stops scheduling, cancels in-flight runs and waits for them to
// return until ctx is done. A cancelled run reports its source tx hash so it
// can be resumed.
func (w *Worker) Stop(ctx context.Context) error {
	done := w.cron.Stop()
	w.cancel()
	select {
	case <-done.Done():
		w.logger.Info("Payroll scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("payroll scheduler stop: %w", ctx.Err())
	}
}

// cronLogger adapts zap to the cron logger interface
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
