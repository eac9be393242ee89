package config

import (
	"context"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/loomgate/loomgate/internal/wasmrt"
)

// StepInternal is the runtime incarnation of a Step: a stable ID plus,
// when With["wasm"] was set, the loaded Module Runtime that backs it. A
// StepInternal with a nil Runtime is inert at the Wasm-host layer; the
// pipeline executor skips it.
type StepInternal struct {
	ID        uuid.UUID
	Uses      string
	Name      string
	Arguments map[string]string
	Runtime   *wasmrt.ModuleRuntime
}

// RouteInternal is the runtime incarnation of a Route.
type RouteInternal struct {
	Path     string
	Pipeline []*StepInternal
	Steps    []*StepInternal
}

// HealthCheckInternal is the runtime incarnation of a HealthCheck, with its
// cron expression already parsed into a schedule.
type HealthCheckInternal struct {
	Schedule cron.Schedule
	Steps    []*StepInternal
}

// ConfigFileInternal is the fully-loaded configuration: every referenced
// Wasm module compiled and instantiated, every placeholder resolved.
type ConfigFileInternal struct {
	Config      Config
	HealthCheck *HealthCheckInternal
	Route       RouteInternal
}

// Close tears down every Module Runtime owned by this configuration, in
// Route.Pipeline, Route.Steps, and HealthCheck.Steps.
func (c *ConfigFileInternal) Close(ctx context.Context) error {
	var firstErr error
	closeAll := func(steps []*StepInternal) {
		for _, s := range steps {
			if s.Runtime == nil {
				continue
			}
			if err := s.Runtime.Close(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	closeAll(c.Route.Pipeline)
	closeAll(c.Route.Steps)
	if c.HealthCheck != nil {
		closeAll(c.HealthCheck.Steps)
	}
	return firstErr
}
