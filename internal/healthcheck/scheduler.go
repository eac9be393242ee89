// Package healthcheck drives a cron-scheduled run of a health check's own
// steps, independent of inbound HTTP traffic.
package healthcheck

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/loomgate/loomgate/internal/config"
	"github.com/loomgate/loomgate/internal/metrics"
	"github.com/loomgate/loomgate/internal/pipeline"
)

// Scheduler runs a HealthCheckInternal's Steps through the pipeline
// machinery on its own cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New builds a Scheduler. It does not start running until Start is
// called.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Schedule registers hc to run on its own parsed schedule, executing its
// Steps (not a route's pipeline) on every tick. routeName labels metrics.
func (s *Scheduler) Schedule(routeName string, hc *config.HealthCheckInternal, m *metrics.Metrics) {
	job := cron.FuncJob(func() {
		s.runOnce(routeName, hc, m)
	})
	s.cron.Schedule(hc.Schedule, job)
}

func (s *Scheduler) runOnce(routeName string, hc *config.HealthCheckInternal, m *metrics.Metrics) {
	req := &pipeline.Request{}
	outcome := pipeline.Execute(context.Background(), s.logger, m, routeName, hc.Steps, req)

	if s.logger == nil {
		return
	}
	switch outcome.Kind {
	case pipeline.Continue:
		s.logger.Debug("health check passed", zap.String("route", routeName))
	case pipeline.Rejected:
		s.logger.Error("health check rejected",
			zap.String("route", routeName),
			zap.String("step", outcome.Step),
			zap.Any("error", outcome.Err))
	case pipeline.HostError:
		s.logger.Error("health check host error",
			zap.String("route", routeName),
			zap.String("step", outcome.Step),
			zap.Error(outcome.HostErr))
	}
}

// Start begins running scheduled health checks in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
