package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/logger"
	"platewatch/internal/model"
)

type fakeSource struct {
	mu       sync.Mutex
	captures int
	err      error
	frame    *model.Frame
}

func (f *fakeSource) CaptureFrame() (*model.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

func (f *fakeSource) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

type fakeProcessor struct {
	processed  atomic.Int32
	concurrent atomic.Int32
	maxSeen    atomic.Int32
	delay      time.Duration
}

func (f *fakeProcessor) Process(*model.Frame) (*model.DetectionRecord, error) {
	n := f.concurrent.Add(1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.concurrent.Add(-1)
	f.processed.Add(1)
	return nil, nil
}

func schedulerFrame(t *testing.T) *model.Frame {
	t.Helper()
	f, err := model.NewFrame(make([]byte, 4*4*3), 4, 4, model.PixelFormatBGR24)
	require.NoError(t, err)
	return f
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestScheduler_ProcessesFramesAtCadence(t *testing.T) {
	source := &fakeSource{frame: schedulerFrame(t)}
	proc := &fakeProcessor{}
	s := NewScheduler(source, proc, time.Millisecond, 10*time.Millisecond, logger.Nop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	eventually(t, func() bool { return proc.processed.Load() >= 3 },
		"scheduler never processed frames")
	assert.True(t, s.Running())
	assert.True(t, s.WorkerAlive())
}

func TestScheduler_NeverOverlapsCycles(t *testing.T) {
	source := &fakeSource{frame: schedulerFrame(t)}
	proc := &fakeProcessor{delay: 5 * time.Millisecond}
	s := NewScheduler(source, proc, time.Millisecond, 10*time.Millisecond, logger.Nop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	eventually(t, func() bool { return proc.processed.Load() >= 5 },
		"scheduler never processed frames")
	assert.Equal(t, int32(1), proc.maxSeen.Load(),
		"pipeline(N+1) must not start before pipeline(N) completes")
}

func TestScheduler_SkipsWhenNotStreaming(t *testing.T) {
	source := &fakeSource{err: model.ErrNotStreaming}
	proc := &fakeProcessor{}
	s := NewScheduler(source, proc, time.Millisecond, 5*time.Millisecond, logger.Nop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	eventually(t, func() bool { return source.captureCount() >= 2 },
		"scheduler never retried capture")
	assert.Equal(t, int32(0), proc.processed.Load(), "nothing to process while camera is down")
	assert.True(t, s.Running(), "not-streaming is a wait state, not a failure")
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	source := &fakeSource{frame: schedulerFrame(t)}
	s := NewScheduler(source, &fakeProcessor{}, time.Millisecond, time.Millisecond, logger.Nop())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.True(t, s.Running())
}

func TestScheduler_StopWaitsForCycle(t *testing.T) {
	source := &fakeSource{frame: schedulerFrame(t)}
	proc := &fakeProcessor{delay: 10 * time.Millisecond}
	s := NewScheduler(source, proc, time.Millisecond, time.Millisecond, logger.Nop())

	require.NoError(t, s.Start(context.Background()))
	eventually(t, func() bool { return proc.processed.Load() >= 1 }, "no cycle ran")

	s.Stop()
	assert.False(t, s.Running())
	assert.Equal(t, int32(0), proc.concurrent.Load(), "no cycle may be in flight after Stop")
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{frame: schedulerFrame(t)}
	s := NewScheduler(source, &fakeProcessor{}, time.Millisecond, time.Millisecond, logger.Nop())

	require.NoError(t, s.Start(ctx))
	cancel()

	eventually(t, func() bool { return !s.Running() }, "scheduler kept running after cancel")
	assert.False(t, s.WorkerAlive())
}
