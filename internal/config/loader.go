package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/loomgate/loomgate/internal/wasmrt"
)

// cronParser accepts 6-field (seconds, minutes, hours, day-of-month,
// month, day-of-week) cron expressions. The gateway's own schema documents
// a 7-field format with a trailing year; no Go cron library parses a year
// field, so Load strips it (see DESIGN.md) before handing the expression
// to this parser.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Loader parses and loads a ConfigFile into its runtime form. Each Step
// with a bound Wasm module gets its own wazero Engine (see
// SPEC_FULL.md §4, "Engine per Step"); Loader carries only the default
// EngineConfig used when a Step doesn't override it.
type Loader struct {
	DefaultEngine wasmrt.EngineConfig
}

// NewLoader constructs a Loader using defaultEngine for any Step that
// doesn't set With["runtime_mode"] / With["memory_limit_pages"].
func NewLoader(defaultEngine wasmrt.EngineConfig) *Loader {
	return &Loader{DefaultEngine: defaultEngine}
}

// Load reads path, parses it as a ConfigFile, resolves variable
// placeholders, and loads every referenced Wasm module, in that order.
func (l *Loader) Load(ctx context.Context, path string) (*ConfigFileInternal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "reading config file", Err: err}
	}
	return l.Parse(ctx, path, data)
}

// Parse decodes raw YAML bytes into a ConfigFileInternal. path is used only
// to annotate errors.
func (l *Loader) Parse(ctx context.Context, path string, data []byte) (*ConfigFileInternal, error) {
	var raw ConfigFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Path: path, Reason: "parsing YAML", Err: err}
	}

	if err := rejectPlaceholders(path, "route.path", raw.Route.Path); err != nil {
		return nil, err
	}

	internalRoute, err := l.loadRoute(ctx, path, raw.Route)
	if err != nil {
		return nil, err
	}

	var internalHC *HealthCheckInternal
	if raw.HealthCheck != nil {
		internalHC, err = l.loadHealthCheck(ctx, path, *raw.HealthCheck)
		if err != nil {
			return nil, err
		}
	}

	return &ConfigFileInternal{
		Config:      raw.Config,
		HealthCheck: internalHC,
		Route:       internalRoute,
	}, nil
}

func (l *Loader) loadRoute(ctx context.Context, path string, r Route) (RouteInternal, error) {
	pipeline, err := l.loadSteps(ctx, path, "route.pipeline", r.Pipeline)
	if err != nil {
		return RouteInternal{}, err
	}
	steps, err := l.loadSteps(ctx, path, "route.steps", r.Steps)
	if err != nil {
		return RouteInternal{}, err
	}
	return RouteInternal{Path: r.Path, Pipeline: pipeline, Steps: steps}, nil
}

func (l *Loader) loadHealthCheck(ctx context.Context, path string, hc HealthCheck) (*HealthCheckInternal, error) {
	schedule, err := cronParser.Parse(stripTrailingYearField(hc.Period))
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("health_check.period %q is not a valid cron expression", hc.Period), Err: err}
	}
	steps, err := l.loadSteps(ctx, path, "health_check.steps", hc.Steps)
	if err != nil {
		return nil, err
	}
	return &HealthCheckInternal{Schedule: schedule, Steps: steps}, nil
}

// stepEngineConfig overrides the Loader's default per-Step engine
// settings from With["memory_limit_pages"] / With["runtime_mode"], when
// present.
func (l *Loader) stepEngineConfig(s Step) wasmrt.EngineConfig {
	cfg := l.DefaultEngine
	if mode, ok := s.With["runtime_mode"]; ok {
		cfg.Mode = mode
	}
	if raw, ok := s.With["memory_limit_pages"]; ok {
		if n, err := strconv.ParseUint(raw, 10, 32); err == nil {
			cfg.MemoryLimitPages = uint32(n)
		}
	}
	return cfg
}

// stripTrailingYearField drops a 7th whitespace-separated field, since
// robfig/cron only understands up to 6.
func stripTrailingYearField(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) == 7 {
		fields = fields[:6]
	}
	return strings.Join(fields, " ")
}

func (l *Loader) loadSteps(ctx context.Context, path, field string, steps []Step) ([]*StepInternal, error) {
	out := make([]*StepInternal, 0, len(steps))
	for i, s := range steps {
		stepPath := fmt.Sprintf("%s[%d]", field, i)

		if err := rejectPlaceholders(path, stepPath+".uses", s.Uses); err != nil {
			return nil, err
		}
		if s.Name != nil {
			if err := rejectPlaceholders(path, stepPath+".name", *s.Name); err != nil {
				return nil, err
			}
		}
		for k, v := range s.With {
			if err := rejectPlaceholders(path, fmt.Sprintf("%s.with[%s]", stepPath, k), v); err != nil {
				return nil, err
			}
		}

		args, err := resolveArguments(fmt.Sprintf("%s.%s", path, stepPath), s.Arguments)
		if err != nil {
			return nil, err
		}

		name := s.Uses
		if s.Name != nil {
			name = *s.Name
		}

		si := &StepInternal{
			ID:        uuid.New(),
			Uses:      s.Uses,
			Name:      name,
			Arguments: args,
		}

		if wasmPath, ok := s.WasmPath(); ok {
			engineCfg := l.stepEngineConfig(s)
			rt, err := wasmrt.Load(ctx, wasmrt.LoadOptions{Name: name, WasmPath: wasmPath, Engine: engineCfg})
			if err != nil {
				return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("%s: loading wasm module", stepPath), Err: err}
			}
			si.Runtime = rt
		}

		out = append(out, si)
	}
	return out, nil
}
