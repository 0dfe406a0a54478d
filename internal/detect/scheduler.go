package detect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/model"
)

// FrameSource supplies frames; in production this is the camera manager.
type FrameSource interface {
	CaptureFrame() (*model.Frame, error)
}

// Processor consumes one frame; in production this is the Pipeline.
type Processor interface {
	Process(frame *model.Frame) (*model.DetectionRecord, error)
}

// Scheduler drives the pipeline at a fixed cadence. One logical worker:
// the next capture starts only after the current pipeline run completes,
// which bounds memory and keeps dedup's against-previous ordering exact.
type Scheduler struct {
	source   FrameSource
	proc     Processor
	interval time.Duration
	backoff  time.Duration // wait when the camera is not streaming
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	last    atomic.Int64 // unix nanos of the last completed cycle
}

// NewScheduler builds a scheduler over a frame source and processor.
func NewScheduler(source FrameSource, proc Processor, interval, backoff time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		source:   source,
		proc:     proc,
		interval: interval,
		backoff:  backoff,
		log:      log,
	}
}

// Name identifies the scheduler to the readiness sequencer.
func (s *Scheduler) Name() string { return "detection-scheduler" }

// Start launches the worker. Idempotent while running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.run(runCtx, s.done)
	s.log.Info().Dur("interval", s.interval).Msg("detection scheduler started")
	return nil
}

// Stop halts the worker and waits for the current cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.running.Store(false)
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		wait := s.interval
		frame, err := s.source.CaptureFrame()
		switch {
		case errors.Is(err, model.ErrNotStreaming):
			// Not an error: the camera simply is not up yet.
			wait = s.backoff
		case err != nil:
			s.log.Warn().Err(err).Msg("frame capture failed, retrying next cycle")
		default:
			// Process errors are absorbed inside the pipeline; anything
			// surfacing here is still just one lost frame.
			if _, perr := s.proc.Process(frame); perr != nil {
				s.log.Error().Err(perr).Msg("pipeline returned an error, frame dropped")
			}
		}

		s.last.Store(time.Now().UnixNano())

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Running reports whether the worker goroutine is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// WorkerAlive reports whether the worker completed a cycle recently
// (within three intervals plus the backoff).
func (s *Scheduler) WorkerAlive() bool {
	if !s.running.Load() {
		return false
	}
	last := s.last.Load()
	if last == 0 {
		// Started but no cycle yet.
		return true
	}
	staleAfter := 3*s.interval + s.backoff
	return time.Since(time.Unix(0, last)) < staleAfter
}
