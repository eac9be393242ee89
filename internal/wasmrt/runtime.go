package wasmrt

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/loomgate/loomgate/internal/abi"
)

// DefaultLockTimeout bounds how long a caller waits to acquire the store
// lock before giving up. A healthy guest call completes in well under this;
// a guest stuck in an infinite loop would otherwise wedge every request
// routed through it forever.
const DefaultLockTimeout = 10 * time.Second

// ModuleRuntime is one instantiated guest module bound to a single Step. It
// owns the module's compiled code, its one live instance, and the lock that
// serializes calls against that instance's store.
type ModuleRuntime struct {
	ID       uuid.UUID
	Name     string
	engine   *Engine
	compiled wazero.CompiledModule
	instance api.Module
	lock     *storeLock
	logger   *zap.Logger
}

// HTTPValidatorCall bundles the arguments of a single http_validator
// invocation.
type HTTPValidatorCall struct {
	Body    []byte
	Headers map[string]string
	Method  abi.HttpMethod
	Version abi.HttpVersion
	Args    map[string]string
}

// HTTPValidatorOutcome is the decoded result of an http_validator call. Err
// is set only when the guest reported a CustomError through the error
// channel (errno != 0, whether alongside ResultError or ResultContinue); it
// represents a rejection, not a host failure. A ResultError with errno 0
// leaves Err nil.
type HTTPValidatorOutcome struct {
	Result MiddlewareResultWithErrNo
	Err    *abi.CustomError
}

// MiddlewareResultWithErrNo is the raw (result, errno) pair the call
// produced, kept together since the pipeline decision rule depends on both.
type MiddlewareResultWithErrNo struct {
	Value abi.MiddlewareResult
	ErrNo int32
}

// InvokeHTTPValidator acquires the store lock, marshals call into guest
// memory, invokes http_validator, drains the error channel, and releases
// every guest buffer it allocated — in all cases, including when the guest
// call itself traps.
func (m *ModuleRuntime) InvokeHTTPValidator(ctx context.Context, call HTTPValidatorCall) (HTTPValidatorOutcome, error) {
	if err := m.lock.acquire(DefaultLockTimeout); err != nil {
		return HTTPValidatorOutcome{}, &ResourceError{Op: "http_validator", Reason: "store lock", Err: err}
	}
	defer m.lock.release()

	fn := m.instance.ExportedFunction(abi.ExportHttpValidator)
	if fn == nil {
		return HTTPValidatorOutcome{}, &ProtocolError{Op: "http_validator", Reason: "guest does not export http_validator"}
	}

	headerBytes := abi.EncodeMap(call.Headers)
	argBytes := abi.EncodeMap(call.Args)

	bodyBuf, err := AllocGuestBuffer(ctx, m.instance, uint32(len(call.Body)))
	if err != nil {
		return HTTPValidatorOutcome{}, err
	}
	defer closeBuffer(ctx, m.logger, bodyBuf)
	if err := bodyBuf.WriteIn(call.Body); err != nil {
		return HTTPValidatorOutcome{}, err
	}

	headersBuf, err := AllocGuestBuffer(ctx, m.instance, uint32(len(headerBytes)))
	if err != nil {
		return HTTPValidatorOutcome{}, err
	}
	defer closeBuffer(ctx, m.logger, headersBuf)
	if err := headersBuf.WriteIn(headerBytes); err != nil {
		return HTTPValidatorOutcome{}, err
	}

	argsBuf, err := AllocGuestBuffer(ctx, m.instance, uint32(len(argBytes)))
	if err != nil {
		return HTTPValidatorOutcome{}, err
	}
	defer closeBuffer(ctx, m.logger, argsBuf)
	if err := argsBuf.WriteIn(argBytes); err != nil {
		return HTTPValidatorOutcome{}, err
	}

	results, callErr := fn.Call(ctx,
		uint64(bodyBuf.Ptr()), uint64(bodyBuf.Size()),
		uint64(headersBuf.Ptr()), uint64(headersBuf.Size()),
		uint64(call.Method), uint64(call.Version),
		uint64(argsBuf.Ptr()), uint64(argsBuf.Size()),
	)
	if callErr != nil {
		return HTTPValidatorOutcome{}, &ResourceError{Op: "http_validator", Reason: "guest call trapped", Err: callErr}
	}
	if len(results) != 1 {
		return HTTPValidatorOutcome{}, &ProtocolError{Op: "http_validator", Reason: "expected 1 result"}
	}

	result := abi.MiddlewareResult(int32(results[0]))

	guestErr, err := ReadAndClearError(ctx, m.instance)
	if err != nil {
		return HTTPValidatorOutcome{}, err
	}

	errNo := int32(0)
	if guestErr != nil {
		errNo = guestErr.Code
	}

	return HTTPValidatorOutcome{
		Result: MiddlewareResultWithErrNo{Value: result, ErrNo: errNo},
		Err:    guestErr,
	}, nil
}

func closeBuffer(ctx context.Context, logger *zap.Logger, b *GuestBuffer) {
	if b == nil {
		return
	}
	if err := b.Close(ctx); err != nil && logger != nil {
		logger.Warn("failed to release guest buffer", zap.Error(err))
	}
}

// Close tears down this ModuleRuntime's own Engine, which in turn closes
// its single instance and compiled module (each Step owns its engine
// exclusively — see SPEC_FULL.md §4, "Engine per Step").
func (m *ModuleRuntime) Close(ctx context.Context) error {
	m.lock.close()
	return m.engine.Close(ctx)
}
