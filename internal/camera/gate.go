package camera

import (
	"fmt"
	"sync"
	"time"

	"platewatch/internal/model"
)

// AccessGate serializes every operation that touches the physical camera
// handle. It is a single-slot exclusive lock: at most one Guard is live at
// any instant, regardless of which goroutine asked. Not re-entrant.
type AccessGate struct {
	slot chan struct{}
}

// NewAccessGate returns a gate with its slot free.
func NewAccessGate() *AccessGate {
	g := &AccessGate{slot: make(chan struct{}, 1)}
	g.slot <- struct{}{}
	return g
}

// Acquire blocks up to timeout for exclusive access. On success the caller
// owns the returned Guard and must Release it.
func (g *AccessGate) Acquire(timeout time.Duration) (*Guard, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.slot:
		return &Guard{gate: g}, nil
	case <-timer.C:
		return nil, fmt.Errorf("camera gate not acquired within %s: %w", timeout, model.ErrTimeout)
	}
}

// TryAcquire grabs the slot without waiting, returning nil if it is held.
func (g *AccessGate) TryAcquire() *Guard {
	select {
	case <-g.slot:
		return &Guard{gate: g}
	default:
		return nil
	}
}

// With runs fn under the gate. The slot is returned on every exit path,
// including a panic inside fn.
func (g *AccessGate) With(timeout time.Duration, fn func() error) error {
	guard, err := g.Acquire(timeout)
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn()
}

// Guard represents exclusive ownership of the camera slot.
type Guard struct {
	gate *AccessGate
	once sync.Once
}

// Release returns the slot. Safe to call more than once.
func (gd *Guard) Release() {
	gd.once.Do(func() {
		gd.gate.slot <- struct{}{}
	})
}
