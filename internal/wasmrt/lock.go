package wasmrt

import (
	"fmt"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// storeLock serializes every guest call against a single Module Runtime
// instance. A store is not safe for concurrent calls, so rather than pool
// N instances we keep exactly one and gate access to it with a ring buffer
// of capacity 1 holding a single sentinel token: acquiring the token is
// acquiring the store, returning it releases the store.
type storeLock struct {
	rb *queue.RingBuffer
}

var lockToken = struct{}{}

func newStoreLock() *storeLock {
	rb := queue.NewRingBuffer(1)
	_, _ = rb.Offer(lockToken)
	return &storeLock{rb: rb}
}

// acquire blocks until the store is available or timeout elapses.
func (l *storeLock) acquire(timeout time.Duration) error {
	_, err := l.rb.Poll(timeout)
	if err != nil {
		return fmt.Errorf("wasmrt: store busy: %w", err)
	}
	return nil
}

// release returns the store to availability. Must be called exactly once
// per successful acquire, regardless of how the guarded call ended.
func (l *storeLock) release() {
	_, _ = l.rb.Offer(lockToken)
}

// close disposes of the underlying ring buffer. Any blocked acquire
// immediately fails.
func (l *storeLock) close() {
	l.rb.Dispose()
}
