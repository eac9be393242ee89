package wasmrt

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/loomgate/loomgate/internal/abi"
	"github.com/loomgate/loomgate/internal/logging"
)

// LoadOptions configures how a single guest module is compiled and
// instantiated. Per SPEC_FULL.md §4, each Step with a bound Wasm module
// gets its own wazero Runtime rather than sharing one across Steps, so
// EngineConfig travels with the per-module LoadOptions instead of being
// supplied once at process scope.
type LoadOptions struct {
	// Name identifies the module for logging; typically the Step's `uses`
	// value.
	Name string
	// WasmPath is the filesystem path to the compiled .wasm binary.
	WasmPath string
	// Engine configures this Step's own wazero runtime (memory limit,
	// compiler vs. interpreter mode).
	Engine EngineConfig
	Logger *zap.Logger
}

// Load creates a fresh Engine, then reads, compiles, validates,
// instantiates and sets up a single guest module against it, in that
// order. Any failure short of a successful _setup leaves nothing
// registered: the caller gets a LoadError and the Step is refused, never
// left half-initialized, and the Engine this call created is closed
// before returning.
func Load(ctx context.Context, opts LoadOptions) (*ModuleRuntime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}

	engine, err := NewEngine(ctx, opts.Engine)
	if err != nil {
		return nil, &LoadError{Module: opts.Name, Reason: "creating engine", Err: err}
	}

	wasmBytes, err := os.ReadFile(opts.WasmPath)
	if err != nil {
		engine.Close(ctx)
		return nil, &LoadError{Module: opts.Name, Reason: "reading wasm file", Err: err}
	}

	compiled, err := engine.Runtime().CompileModule(ctx, wasmBytes)
	if err != nil {
		engine.Close(ctx)
		return nil, &LoadError{Module: opts.Name, Reason: "compiling module", Err: err}
	}

	if err := validateExports(compiled); err != nil {
		engine.Close(ctx)
		return nil, &LoadError{Module: opts.Name, Reason: "validating exports", Err: err}
	}

	id := uuid.New()
	stdout := logging.NewGuestWriter(logger, opts.Name, "stdout")
	stderr := logging.NewGuestWriter(logger, opts.Name, "stderr")

	modCfg := wazero.NewModuleConfig().
		WithName(id.String()).
		WithStdout(stdout).
		WithStderr(stderr).
		WithStartFunctions() // disable the implicit _start call; _setup is invoked explicitly below

	instance, err := engine.Runtime().InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		engine.Close(ctx)
		return nil, &LoadError{Module: opts.Name, Reason: "instantiating module", Err: err}
	}

	mr := &ModuleRuntime{
		ID:       id,
		Name:     opts.Name,
		engine:   engine,
		compiled: compiled,
		instance: instance,
		lock:     newStoreLock(),
		logger:   logger,
	}

	if err := mr.runSetup(ctx); err != nil {
		mr.lock.close()
		engine.Close(ctx)
		return nil, err
	}

	return mr, nil
}

func validateExports(compiled wazero.CompiledModule) error {
	exported := map[string]bool{}
	for _, fn := range compiled.ExportedFunctions() {
		for _, name := range fn.ExportNames() {
			exported[name] = true
		}
	}
	for _, want := range abi.RequiredExports {
		if !exported[want] {
			return fmt.Errorf("missing required export %q", want)
		}
	}
	if _, ok := compiled.ExportedMemories()[abi.ExportMemory]; !ok {
		return fmt.Errorf("missing required memory export %q", abi.ExportMemory)
	}
	return nil
}

// runSetup calls _setup and, on a nonzero result, drains and clears the
// error channel to build a LoadError that reports what the guest said
// before refusing to start it.
func (m *ModuleRuntime) runSetup(ctx context.Context) error {
	setupFn := m.instance.ExportedFunction(abi.ExportSetup)
	if setupFn == nil {
		return &LoadError{Module: m.Name, Reason: "guest does not export _setup"}
	}

	results, err := setupFn.Call(ctx)
	if err != nil {
		return &LoadError{Module: m.Name, Reason: "_setup trapped", Err: err}
	}
	if len(results) != 1 {
		return &LoadError{Module: m.Name, Reason: "_setup returned unexpected result count"}
	}

	if int32(results[0]) == abi.SetupOK {
		return nil
	}

	guestErr, cerr := ReadAndClearError(ctx, m.instance)
	if cerr != nil {
		return &LoadError{Module: m.Name, Reason: "_setup failed and error channel could not be read", Err: cerr}
	}
	if guestErr != nil {
		return &LoadError{Module: m.Name, Reason: fmt.Sprintf("_setup failed: code=%d message=%q", guestErr.Code, guestErr.Message)}
	}
	return &LoadError{Module: m.Name, Reason: "_setup failed with no error channel detail"}
}
