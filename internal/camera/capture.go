package camera

import "platewatch/internal/model"

// Config describes the capture geometry requested from the hardware.
type Config struct {
	Device string // device index ("0") or stream URL
	Width  int
	Height int
	FPS    int
	// Controls applied after start, once the sensor has settled
	// (e.g. "brightness", "exposure").
	Controls map[string]float64
}

// CapturePort abstracts the physical camera driver. Implementations are
// not safe for concurrent use; the Manager serializes every call through
// the AccessGate.
type CapturePort interface {
	// Open claims the device. Returns model.ErrHardwareBusy (wrapped) when
	// another process holds it.
	Open(cfg Config) error
	// Start begins streaming.
	Start() error
	// Stop halts streaming but keeps the device claimed.
	Stop() error
	// Close releases the device entirely.
	Close() error
	// Capture reads one frame. Only valid while streaming.
	Capture() (*model.Frame, error)
	// ApplyControls sets tuning controls on the open device.
	ApplyControls(controls map[string]float64) error
	// Properties reports what the hardware actually negotiated.
	Properties() map[string]string
}
