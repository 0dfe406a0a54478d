package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Startable is a component whose start must wait for its prerequisites.
type Startable interface {
	Name() string
	Start(ctx context.Context) error
}

// Snapshot is a point-in-time view of the prerequisites. It carries no
// memory: when a prerequisite drops, the next snapshot reports it down,
// regardless of past readiness.
type Snapshot struct {
	CameraReady    bool `json:"camera_ready"`
	DetectionReady bool `json:"detection_ready"`
}

// ShouldStart reports whether the dependent component may run.
func (s Snapshot) ShouldStart() bool {
	return s.CameraReady && s.DetectionReady
}

// SnapshotFunc produces the current prerequisite view.
type SnapshotFunc func() Snapshot

// Status describes where the sequencer got to.
type Status struct {
	Attempts int  `json:"attempts"`
	Started  bool `json:"started"`
	GaveUp   bool `json:"gave_up"`
}

// Sequencer polls the prerequisites and starts the dependent once they
// hold. After the attempt cap it stops trying and leaves the dependent
// to a manual start.
type Sequencer struct {
	snapshot    SnapshotFunc
	target      Startable
	interval    time.Duration
	maxAttempts int
	log         zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	status  Status
}

// NewSequencer builds a sequencer for one dependent component.
func NewSequencer(snapshot SnapshotFunc, target Startable, interval time.Duration, maxAttempts int, log zerolog.Logger) *Sequencer {
	return &Sequencer{
		snapshot:    snapshot,
		target:      target,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Run launches the polling loop. Idempotent while running; a finished
// loop (started or gave up) can be relaunched, which resets the attempt
// count.
func (s *Sequencer) Run(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.status = Status{}

	go s.poll(runCtx, s.done)
}

// Stop halts the loop without touching the dependent.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	running := s.running
	s.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-done
}

func (s *Sequencer) poll(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	for {
		s.mu.Lock()
		s.status.Attempts++
		attempts := s.status.Attempts
		s.mu.Unlock()

		snap := s.snapshot()
		if snap.ShouldStart() {
			if err := s.target.Start(ctx); err != nil {
				s.log.Warn().Err(err).Str("component", s.target.Name()).
					Int("attempt", attempts).Msg("dependent failed to start, will retry")
			} else {
				s.mu.Lock()
				s.status.Started = true
				s.mu.Unlock()
				s.log.Info().Str("component", s.target.Name()).
					Int("attempt", attempts).Msg("prerequisites ready, dependent started")
				return
			}
		} else {
			s.log.Debug().Str("component", s.target.Name()).
				Bool("camera_ready", snap.CameraReady).
				Bool("detection_ready", snap.DetectionReady).
				Int("attempt", attempts).Msg("prerequisites not ready")
		}

		if attempts >= s.maxAttempts {
			s.mu.Lock()
			s.status.GaveUp = true
			s.mu.Unlock()
			s.log.Error().Str("component", s.target.Name()).
				Int("attempts", attempts).
				Msg("prerequisites never became ready, giving up; start manually once resolved")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// Status reports the loop's progress.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Running reports whether the poll loop is active.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
