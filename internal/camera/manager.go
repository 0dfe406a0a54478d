package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/model"
)

// ErrNotInitialized is returned by lifecycle operations that require a
// prior successful Initialize.
var ErrNotInitialized = errors.New("camera not initialized")

// ErrClosed is returned once Close has been called; the manager is done.
var ErrClosed = errors.New("camera manager closed")

// state is the single live CameraState for the process. Mutated only
// inside gate-serialized operations; read through the snapshot mutex.
type state struct {
	initialized bool
	streaming   bool
	recording   bool
	closed      bool
	config      Config
	startedAt   time.Time
}

// Health is a read-only view of the camera for health checks and the
// readiness gate.
type Health struct {
	Initialized bool          `json:"initialized"`
	Streaming   bool          `json:"streaming"`
	Recording   bool          `json:"recording"`
	Uptime      time.Duration `json:"uptime"`
}

// Timeouts bounds the gate waits for the manager's operations.
type Timeouts struct {
	Operation     time.Duration // lifecycle ops: initialize, start, stop, close
	Capture       time.Duration // single frame capture
	Stabilization time.Duration // settle time between start and controls
}

// Manager owns the camera lifecycle over a CapturePort. All hardware
// access goes through the AccessGate; state transitions are idempotent.
type Manager struct {
	gate     *AccessGate
	port     CapturePort
	timeouts Timeouts
	log      zerolog.Logger

	mu sync.RWMutex
	st state
}

// NewManager wires a manager around the given port and gate.
func NewManager(gate *AccessGate, port CapturePort, timeouts Timeouts, log zerolog.Logger) *Manager {
	return &Manager{
		gate:     gate,
		port:     port,
		timeouts: timeouts,
		log:      log,
	}
}

// Initialize opens the hardware and transitions to Initialized. A no-op
// when already initialized. On a busy device it makes one best-effort
// forced release (close and reopen) before giving up; it never retries
// beyond that, the caller decides whether to try again.
func (m *Manager) Initialize(cfg Config) error {
	m.mu.RLock()
	if m.st.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	if m.st.initialized {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	return m.gate.With(m.timeouts.Operation, func() error {
		// Re-check under the gate; a concurrent Initialize may have won.
		m.mu.RLock()
		done := m.st.initialized
		m.mu.RUnlock()
		if done {
			return nil
		}

		err := m.port.Open(cfg)
		if errors.Is(err, model.ErrHardwareBusy) {
			m.log.Warn().Str("device", cfg.Device).
				Msg("device busy, attempting one forced release")
			if cerr := m.port.Close(); cerr != nil {
				m.log.Debug().Err(cerr).Msg("forced release close failed")
			}
			err = m.port.Open(cfg)
		}
		if err != nil {
			return fmt.Errorf("open camera %q: %w", cfg.Device, err)
		}

		m.mu.Lock()
		m.st.initialized = true
		m.st.config = cfg
		m.mu.Unlock()

		m.log.Info().Str("device", cfg.Device).
			Interface("properties", m.port.Properties()).
			Msg("camera initialized")
		return nil
	})
}

// Start transitions Initialized -> Streaming. Idempotent when already
// streaming. Applies baseline controls after a short stabilization wait.
func (m *Manager) Start() error {
	m.mu.RLock()
	if m.st.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	if m.st.streaming {
		m.mu.RUnlock()
		return nil
	}
	if !m.st.initialized {
		m.mu.RUnlock()
		return ErrNotInitialized
	}
	m.mu.RUnlock()

	return m.gate.With(m.timeouts.Operation, func() error {
		return m.startLocked()
	})
}

// startLocked performs the streaming transition. Caller holds the gate.
func (m *Manager) startLocked() error {
	m.mu.RLock()
	if m.st.streaming {
		m.mu.RUnlock()
		return nil
	}
	cfg := m.st.config
	m.mu.RUnlock()

	if err := m.port.Start(); err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}

	if m.timeouts.Stabilization > 0 {
		time.Sleep(m.timeouts.Stabilization)
	}
	if len(cfg.Controls) > 0 {
		if err := m.port.ApplyControls(cfg.Controls); err != nil {
			// Controls are tuning, not correctness. Stream anyway.
			m.log.Warn().Err(err).Msg("baseline controls not applied")
		}
	}

	m.mu.Lock()
	m.st.streaming = true
	m.st.startedAt = time.Now()
	m.mu.Unlock()

	m.log.Info().Msg("camera streaming")
	return nil
}

// Stop transitions Streaming -> Initialized. No-op when not streaming.
func (m *Manager) Stop() error {
	m.mu.RLock()
	if m.st.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	if !m.st.streaming {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	return m.gate.With(m.timeouts.Operation, func() error {
		return m.stopLocked()
	})
}

// stopLocked halts streaming. Caller holds the gate.
func (m *Manager) stopLocked() error {
	m.mu.RLock()
	streaming := m.st.streaming
	m.mu.RUnlock()
	if !streaming {
		return nil
	}

	if err := m.port.Stop(); err != nil {
		return fmt.Errorf("stop streaming: %w", err)
	}

	m.mu.Lock()
	m.st.streaming = false
	m.st.recording = false
	m.st.startedAt = time.Time{}
	m.mu.Unlock()

	m.log.Info().Msg("camera stopped")
	return nil
}

// Restart stops and starts the stream under a single gate hold, so a
// concurrent Initialize or Capture can never interleave between the two.
func (m *Manager) Restart() error {
	m.mu.RLock()
	if m.st.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	if !m.st.initialized {
		m.mu.RUnlock()
		return ErrNotInitialized
	}
	m.mu.RUnlock()

	return m.gate.With(m.timeouts.Operation, func() error {
		if err := m.stopLocked(); err != nil {
			return err
		}
		return m.startLocked()
	})
}

// CaptureFrame grabs one frame with metadata. Fails fast with
// model.ErrNotStreaming when the camera is not streaming.
func (m *Manager) CaptureFrame() (*model.Frame, error) {
	m.mu.RLock()
	if m.st.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	if !m.st.streaming {
		m.mu.RUnlock()
		return nil, model.ErrNotStreaming
	}
	device := m.st.config.Device
	m.mu.RUnlock()

	var frame *model.Frame
	err := m.gate.With(m.timeouts.Capture, func() error {
		f, err := m.port.Capture()
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		f.Metadata["device"] = device
		frame = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// SetRecording flags the stream as recording. Recording requires an
// active stream.
func (m *Manager) SetRecording(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on && !m.st.streaming {
		return model.ErrNotStreaming
	}
	m.st.recording = on
	return nil
}

// Health reports the current camera state without touching the gate, so
// health polling can never starve streaming.
func (m *Manager) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := Health{
		Initialized: m.st.initialized,
		Streaming:   m.st.streaming,
		Recording:   m.st.recording,
	}
	if m.st.streaming && !m.st.startedAt.IsZero() {
		h.Uptime = time.Since(m.st.startedAt)
	}
	return h
}

// Close tears the camera down. Terminal: the manager rejects all further
// operations.
func (m *Manager) Close() error {
	m.mu.RLock()
	if m.st.closed {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	return m.gate.With(m.timeouts.Operation, func() error {
		if err := m.stopLocked(); err != nil {
			m.log.Warn().Err(err).Msg("stop during close failed")
		}
		if err := m.port.Close(); err != nil {
			return fmt.Errorf("close camera: %w", err)
		}

		m.mu.Lock()
		m.st = state{closed: true}
		m.mu.Unlock()

		m.log.Info().Msg("camera closed")
		return nil
	})
}
