// Package pipeline implements the executor that marshals an inbound
// request through a route's ordered validator Steps, stopping at the
// first non-Continue outcome.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/loomgate/loomgate/internal/abi"
	"github.com/loomgate/loomgate/internal/config"
	"github.com/loomgate/loomgate/internal/metrics"
	"github.com/loomgate/loomgate/internal/wasmrt"
)

// Kind is the outcome a pipeline run ends in.
type Kind int

const (
	// Continue means every step accepted the request.
	Continue Kind = iota
	// Rejected means a step's guest returned ResultError or set a nonzero
	// errno; this is an expected outcome, not a Go error.
	Rejected
	// HostError means the host itself could not complete a step: a
	// missing export, an out-of-range guest pointer, or a serialization
	// failure. No further steps run.
	HostError
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Rejected:
		return "rejected"
	case HostError:
		return "host_error"
	default:
		return "unknown"
	}
}

// Outcome is the result of running a Route's pipeline against one request.
type Outcome struct {
	Kind Kind
	// Step is the Uses/Name of the step that produced a non-Continue
	// outcome; empty for Continue.
	Step string
	// Err is set when Kind == Rejected and the guest set a nonzero errno:
	// the CustomError the guest reported. It is nil for a ResultError
	// returned with errno 0.
	Err *abi.CustomError
	// HostErr is set when Kind == HostError: the underlying host-side
	// failure.
	HostErr error
}

// Request is the inbound data marshaled to every Wasm-backed step in a
// pipeline.
type Request struct {
	Body    []byte
	Headers map[string]string
	Method  abi.HttpMethod
	Version abi.HttpVersion
}

// Execute runs req through steps in order. Steps with no bound Module
// Runtime (With["wasm"] was absent) are inert and skipped, per the
// internal-model contract in internal/config. The first non-Continue
// outcome stops the pipeline; remaining steps do not run. route names the
// route this pipeline belongs to, for metric labels; m may be nil to skip
// instrumentation (e.g. in tests).
func Execute(ctx context.Context, logger *zap.Logger, m *metrics.Metrics, route string, steps []*config.StepInternal, req *Request) Outcome {
	for _, step := range steps {
		if step.Runtime == nil {
			continue
		}

		start := time.Now()
		result, err := step.Runtime.InvokeHTTPValidator(ctx, wasmrt.HTTPValidatorCall{
			Body:    req.Body,
			Headers: req.Headers,
			Method:  req.Method,
			Version: req.Version,
			Args:    step.Arguments,
		})
		if m != nil {
			m.PipelineDuration.WithLabelValues(route, step.Name).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			if logger != nil {
				logger.Error("pipeline step host error", zap.String("step", step.Name), zap.Error(err))
			}
			if m != nil {
				m.PipelineInvocations.WithLabelValues(route, step.Name, HostError.String()).Inc()
			}
			return Outcome{Kind: HostError, Step: step.Name, HostErr: err}
		}

		if result.Err != nil || result.Result.Value == abi.ResultError || result.Result.ErrNo != 0 {
			if logger != nil {
				logger.Info("pipeline step rejected request",
					zap.String("step", step.Name),
					zap.Int32("errno", result.Result.ErrNo))
			}
			if m != nil {
				m.PipelineInvocations.WithLabelValues(route, step.Name, Rejected.String()).Inc()
			}
			return Outcome{Kind: Rejected, Step: step.Name, Err: result.Err}
		}

		if m != nil {
			m.PipelineInvocations.WithLabelValues(route, step.Name, Continue.String()).Inc()
		}
	}

	return Outcome{Kind: Continue}
}
