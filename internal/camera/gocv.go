package camera

import (
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"platewatch/internal/model"
)

// GoCVCapture is the production CapturePort backed by an OpenCV
// VideoCapture. The Manager's gate is the only caller, so the internal
// mutex just guards against misuse during shutdown.
type GoCVCapture struct {
	mu      sync.Mutex
	vc      *gocv.VideoCapture
	cfg     Config
	started bool
}

// NewGoCVCapture returns an unopened capture port.
func NewGoCVCapture() *GoCVCapture {
	return &GoCVCapture{}
}

// Open claims the device described by cfg. A device that exists but
// refuses to open is reported as busy so the Manager can attempt its one
// forced release.
func (c *GoCVCapture) Open(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc != nil {
		return nil
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(cfg.Device); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(cfg.Device)
	}
	if err != nil {
		return fmt.Errorf("open %q: %v: %w", cfg.Device, err, model.ErrHardwareFailure)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("device %q did not grant access: %w", cfg.Device, model.ErrHardwareBusy)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	c.vc = vc
	c.cfg = cfg
	return nil
}

// Start confirms the device delivers frames by reading one warmup frame.
func (c *GoCVCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return fmt.Errorf("start before open: %w", model.ErrHardwareFailure)
	}
	if c.started {
		return nil
	}

	warmup := gocv.NewMat()
	defer warmup.Close()
	if ok := c.vc.Read(&warmup); !ok || warmup.Empty() {
		return fmt.Errorf("device %q produced no warmup frame: %w", c.cfg.Device, model.ErrHardwareFailure)
	}

	c.started = true
	return nil
}

// Stop halts frame delivery but keeps the device claimed.
func (c *GoCVCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return nil
}

// Close releases the device.
func (c *GoCVCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	c.started = false
	if err != nil {
		return fmt.Errorf("close device: %v: %w", err, model.ErrHardwareFailure)
	}
	return nil
}

// Capture reads one BGR frame and wraps it as a model.Frame.
func (c *GoCVCapture) Capture() (*model.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil || !c.started {
		return nil, model.ErrNotStreaming
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("read frame from %q: %w", c.cfg.Device, model.ErrHardwareFailure)
	}

	pixels := mat.ToBytes()
	frame, err := model.NewFrame(pixels, mat.Cols(), mat.Rows(), model.PixelFormatBGR24)
	if err != nil {
		return nil, fmt.Errorf("wrap captured frame: %w", err)
	}
	return frame, nil
}

// ApplyControls maps control names onto VideoCapture properties. Unknown
// names are an error so typos in config surface immediately.
func (c *GoCVCapture) ApplyControls(controls map[string]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return fmt.Errorf("controls before open: %w", model.ErrHardwareFailure)
	}

	for name, value := range controls {
		prop, ok := controlProperty(name)
		if !ok {
			return fmt.Errorf("unknown camera control %q: %w", name, model.ErrValidation)
		}
		c.vc.Set(prop, value)
	}
	return nil
}

func controlProperty(name string) (gocv.VideoCaptureProperties, bool) {
	switch name {
	case "brightness":
		return gocv.VideoCaptureBrightness, true
	case "contrast":
		return gocv.VideoCaptureContrast, true
	case "saturation":
		return gocv.VideoCaptureSaturation, true
	case "gain":
		return gocv.VideoCaptureGain, true
	case "exposure":
		return gocv.VideoCaptureExposure, true
	case "autofocus":
		return gocv.VideoCaptureAutoFocus, true
	default:
		return 0, false
	}
}

// Properties reports what the hardware actually negotiated.
func (c *GoCVCapture) Properties() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return map[string]string{}
	}
	return map[string]string{
		"width":  strconv.Itoa(int(c.vc.Get(gocv.VideoCaptureFrameWidth))),
		"height": strconv.Itoa(int(c.vc.Get(gocv.VideoCaptureFrameHeight))),
		"fps":    strconv.Itoa(int(c.vc.Get(gocv.VideoCaptureFPS))),
	}
}
