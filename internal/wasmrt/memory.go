package wasmrt

import (
	"context"
	"fmt"
	"runtime"

	"github.com/tetratelabs/wazero/api"
)

// GuestBuffer is a host-owned handle over a region of guest linear memory,
// obtained by calling the guest's alloc export. It is not copyable: callers
// must treat it like a file handle and always reach Close, including on
// error paths, or the guest-side allocation leaks for the lifetime of the
// instance. A finalizer logs (it cannot error) if Close was forgotten, as a
// last-resort leak detector; it must never be relied on for correctness.
type GuestBuffer struct {
	mod  api.Module
	ptr  uint32
	size uint32
	freed bool
}

// AllocGuestBuffer calls the guest's alloc export to reserve size bytes and
// returns a handle over the resulting region.
func AllocGuestBuffer(ctx context.Context, mod api.Module, size uint32) (*GuestBuffer, error) {
	if size == 0 {
		return &GuestBuffer{mod: mod, ptr: 0, size: 0, freed: true}, nil
	}

	allocFn := mod.ExportedFunction("alloc")
	if allocFn == nil {
		return nil, &ProtocolError{Op: "alloc", Reason: "guest does not export alloc"}
	}

	results, err := allocFn.Call(ctx, uint64(size))
	if err != nil {
		return nil, &ResourceError{Op: "alloc", Reason: "guest alloc trapped", Err: err}
	}
	if len(results) != 1 {
		return nil, &ProtocolError{Op: "alloc", Reason: fmt.Sprintf("expected 1 result, got %d", len(results))}
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return nil, &ResourceError{Op: "alloc", Reason: fmt.Sprintf("guest returned null pointer allocating %d bytes", size)}
	}

	b := &GuestBuffer{mod: mod, ptr: ptr, size: size}
	runtime.SetFinalizer(b, leakedGuestBuffer)
	return b, nil
}

func leakedGuestBuffer(b *GuestBuffer) {
	if !b.freed {
		logGlobal().Warn("guest buffer leaked: Close was never called", "ptr", b.ptr, "size", b.size)
	}
}

// Ptr is the guest-linear-memory address of the buffer.
func (b *GuestBuffer) Ptr() uint32 { return b.ptr }

// Size is the buffer's length in bytes.
func (b *GuestBuffer) Size() uint32 { return b.size }

// WriteIn copies data into the guest buffer. len(data) must not exceed the
// buffer's reserved size.
func (b *GuestBuffer) WriteIn(data []byte) error {
	if uint32(len(data)) > b.size {
		return &ProtocolError{Op: "copy-in", Reason: fmt.Sprintf("data length %d exceeds buffer size %d", len(data), b.size)}
	}
	if len(data) == 0 {
		return nil
	}
	if !b.mod.Memory().Write(b.ptr, data) {
		return &ProtocolError{Op: "copy-in", Reason: "write out of guest memory range"}
	}
	return nil
}

// ReadOut copies n bytes out of the guest buffer starting at its base.
func (b *GuestBuffer) ReadOut(n uint32) ([]byte, error) {
	if n > b.size {
		return nil, &ProtocolError{Op: "copy-out", Reason: fmt.Sprintf("requested length %d exceeds buffer size %d", n, b.size)}
	}
	if n == 0 {
		return nil, nil
	}
	data, ok := b.mod.Memory().Read(b.ptr, n)
	if !ok {
		return nil, &ProtocolError{Op: "copy-out", Reason: "read out of guest memory range"}
	}
	// Memory().Read returns a slice backed directly by guest linear memory;
	// copy it out so it survives past dealloc/reuse of the region.
	out := make([]byte, n)
	copy(out, data)
	return out, nil
}

// ReadOutAt copies n bytes out of guest linear memory at an arbitrary
// pointer, independent of this buffer's own base. Used when a guest export
// returns a pointer into memory it allocated itself (e.g. get_err_msg).
func ReadOutAt(mod api.Module, ptr, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	data, ok := mod.Memory().Read(ptr, n)
	if !ok {
		return nil, &ProtocolError{Op: "copy-out", Reason: "read out of guest memory range"}
	}
	out := make([]byte, n)
	copy(out, data)
	return out, nil
}

// Close calls the guest's dealloc export, releasing the guest-side
// allocation. Safe to call more than once; only the first call has effect.
func (b *GuestBuffer) Close(ctx context.Context) error {
	if b.freed {
		return nil
	}
	b.freed = true
	runtime.SetFinalizer(b, nil)

	deallocFn := b.mod.ExportedFunction("dealloc")
	if deallocFn == nil {
		return &ProtocolError{Op: "dealloc", Reason: "guest does not export dealloc"}
	}
	if _, err := deallocFn.Call(ctx, uint64(b.ptr), uint64(b.size)); err != nil {
		return &ResourceError{Op: "dealloc", Reason: "guest dealloc trapped", Err: err}
	}
	return nil
}
