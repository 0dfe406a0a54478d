package camera

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/model"
)

func TestAccessGate_ExclusiveAcrossGoroutines(t *testing.T) {
	gate := NewAccessGate()

	var (
		live    atomic.Int32
		maxLive atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				guard, err := gate.Acquire(5 * time.Second)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}

				n := live.Add(1)
				for {
					old := maxLive.Load()
					if n <= old || maxLive.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(time.Microsecond)
				live.Add(-1)
				guard.Release()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxLive.Load(), "at most one guard may be live at any instant")
}

func TestAccessGate_AcquireTimesOutWhileHeld(t *testing.T) {
	gate := NewAccessGate()

	guard, err := gate.Acquire(time.Second)
	require.NoError(t, err)
	defer guard.Release()

	_, err = gate.Acquire(20 * time.Millisecond)
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestAccessGate_ReleaseIsIdempotent(t *testing.T) {
	gate := NewAccessGate()

	guard, err := gate.Acquire(time.Second)
	require.NoError(t, err)
	guard.Release()
	guard.Release() // second release must not free a phantom slot

	g2, err := gate.Acquire(time.Second)
	require.NoError(t, err)
	defer g2.Release()

	_, err = gate.Acquire(20 * time.Millisecond)
	assert.ErrorIs(t, err, model.ErrTimeout, "double release would have left two slots")
}

func TestAccessGate_WithReleasesOnPanic(t *testing.T) {
	gate := NewAccessGate()

	func() {
		defer func() { _ = recover() }()
		_ = gate.With(time.Second, func() error {
			panic("hardware call blew up")
		})
	}()

	guard, err := gate.Acquire(50 * time.Millisecond)
	require.NoError(t, err, "slot must be free after a panic inside With")
	guard.Release()
}

func TestAccessGate_WithPropagatesError(t *testing.T) {
	gate := NewAccessGate()
	sentinel := errors.New("boom")

	err := gate.With(time.Second, func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestAccessGate_TryAcquire(t *testing.T) {
	gate := NewAccessGate()

	g1 := gate.TryAcquire()
	require.NotNil(t, g1)
	assert.Nil(t, gate.TryAcquire())

	g1.Release()
	g2 := gate.TryAcquire()
	require.NotNil(t, g2)
	g2.Release()
}
