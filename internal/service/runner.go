package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatflow/internal/metrics"
	"chatflow/internal/tracing"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Runner drives Jobs on fixed intervals. A job still running when its next
// tick arrives skips that tick.
type Runner struct {
	cron   *cron.Cron
	logger *logrus.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []string
}

func NewRunner(logger *logrus.Logger) *Runner {
	cronLog := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules job every interval.
func (r *Runner) Add(job Job, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("invalid interval %s for job %s", every, job.Name())
	}
	if _, err := r.cron.AddFunc("@every "+every.String(), func() { r.Run(job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, job.Name())
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{
		LogFieldComponent: job.Name(),
		"interval":        every.String(),
	}).Info("Scheduled job")
	return nil
}

// Run executes one poll of job with tracing and metrics.
func (r *Runner) Run(job Job) BatchResult {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.ctx, "scheduler."+job.Name())
	defer span.End()

	res := job.RunOnce(ctx)

	labels := map[string]string{"job": job.Name()}
	metrics.RecordTimer("scheduler_run_duration", time.Since(start), labels, "Time spent in one scheduler poll")
	metrics.AddToCounter("scheduler_fired_total", float64(res.Fired), labels, "Records fired by schedulers")
	metrics.AddToCounter("scheduler_failed_total", float64(res.Failed), labels, "Records that failed to fire")
	metrics.SetGauge("scheduler_due", float64(res.Due), labels, "Records due at the last poll")
	tracing.AddSpanAttributes(ctx,
		attribute.Int("scheduler.due", res.Due),
		attribute.Int("scheduler.fired", res.Fired),
		attribute.Int("scheduler.failed", res.Failed),
	)

	if res.Due > 0 || res.Failed > 0 {
		r.logger.WithFields(logrus.Fields{
			LogFieldComponent: job.Name(),
			LogFieldCount:     res.Due,
			LogFieldFailed:    res.Failed,
			LogFieldDuration:  time.Since(start).String(),
		}).Info("Scheduler poll finished")
	}
	return res
}

// Jobs lists the names of scheduled jobs.
func (r *Runner) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...)
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop cancels in-flight polls and waits for them to return.
func (r *Runner) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
}
