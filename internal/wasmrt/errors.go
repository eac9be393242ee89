// Package wasmrt hosts compiled Wasm plugin modules: it owns the wazero
// runtime configuration, instantiation, the linear-memory buffer lifecycle,
// the guest error channel protocol, and the single-permit lock that
// serializes calls against one module instance.
package wasmrt

import "fmt"

// LoadError is returned when a module fails to compile, instantiate, or pass
// its required-exports/_setup checks. It always wraps enough context to
// identify which module failed and why.
type LoadError struct {
	Module string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wasmrt: load %q: %s: %v", e.Module, e.Reason, e.Err)
	}
	return fmt.Sprintf("wasmrt: load %q: %s", e.Module, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ProtocolError indicates the guest violated the host/guest ABI contract in
// a way no CustomError can express: a missing export, an out-of-range
// pointer, a negative length, or a call that did not return the expected
// number of results.
type ProtocolError struct {
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wasmrt: protocol violation during %s: %s", e.Op, e.Reason)
}

// ResourceError indicates the host ran out of some resource while servicing
// a guest call: memory allocation failure, closed store, exceeded memory
// limit.
type ResourceError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ResourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wasmrt: resource error during %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("wasmrt: resource error during %s: %s", e.Op, e.Reason)
}

func (e *ResourceError) Unwrap() error { return e.Err }
