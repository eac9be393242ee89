package wasmrt

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// EngineConfig configures the wazero runtime of one Engine.
type EngineConfig struct {
	// Mode selects the wazero execution strategy: "compiler" (ahead-of-time,
	// the default, fast but restricted to supported GOARCH/GOOS) or
	// "interpreter" (portable, slower, used for testing and unsupported
	// platforms).
	Mode string

	// MemoryLimitPages bounds every guest instance's linear memory, in units
	// of the Wasm 64KiB page. Zero falls back to a conservative default so a
	// misbehaving guest can't exhaust host memory.
	MemoryLimitPages uint32
}

const defaultMemoryLimitPages = 256 // 16MiB

// Engine owns a wazero runtime and its WASI imports. Load creates one
// Engine per Module Runtime, which owns it together with its own compiled
// module and instance.
type Engine struct {
	runtime wazero.Runtime
}

// NewEngine constructs the wazero runtime and instantiates the WASI
// preview1 host module so guest imports of it resolve.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	var rtCfg wazero.RuntimeConfig
	if cfg.Mode == "interpreter" {
		rtCfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		rtCfg = wazero.NewRuntimeConfigCompiler()
	}

	limit := cfg.MemoryLimitPages
	if limit == 0 {
		limit = defaultMemoryLimitPages
	}
	rtCfg = rtCfg.WithMemoryLimitPages(limit)

	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, &ResourceError{Op: "engine init", Reason: "instantiating WASI preview1", Err: err}
	}

	return &Engine{runtime: rt}, nil
}

// Runtime exposes the underlying wazero runtime for compilation.
func (e *Engine) Runtime() wazero.Runtime { return e.runtime }

// Close releases every compiled module and instance owned by the runtime.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
