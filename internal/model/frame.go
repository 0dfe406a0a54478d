package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PixelFormat identifies the pixel layout of a Frame's buffer.
type PixelFormat string

const (
	// PixelFormatBGR24 is 3 bytes per pixel, blue first (OpenCV's native order).
	PixelFormatBGR24 PixelFormat = "bgr24"
	// PixelFormatGray8 is 1 byte per pixel.
	PixelFormatGray8 PixelFormat = "gray8"
)

// BytesPerPixel returns the buffer stride per pixel for the format.
func (f PixelFormat) BytesPerPixel() int {
	if f == PixelFormatGray8 {
		return 1
	}
	return 3
}

// Frame is a single captured image. The pixel buffer is owned by whoever
// holds the Frame; pipeline stages either pass it along or derive a new
// Frame (Crop, Gray) with its own buffer. It is never shared mutably.
type Frame struct {
	ID         string
	Pixels     []byte
	Width      int
	Height     int
	Format     PixelFormat
	CapturedAt time.Time
	Metadata   map[string]string
}

// NewFrame wraps a pixel buffer in a Frame, assigning it a fresh ID.
func NewFrame(pixels []byte, width, height int, format PixelFormat) (*Frame, error) {
	f := &Frame{
		ID:         uuid.NewString(),
		Pixels:     pixels,
		Width:      width,
		Height:     height,
		Format:     format,
		CapturedAt: time.Now().UTC(),
		Metadata:   map[string]string{},
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks that the buffer matches the declared geometry.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame: %w", ErrValidation)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame size %dx%d: %w", f.Width, f.Height, ErrValidation)
	}
	want := f.Width * f.Height * f.Format.BytesPerPixel()
	if len(f.Pixels) != want {
		return fmt.Errorf("frame buffer %d bytes, want %d: %w", len(f.Pixels), want, ErrValidation)
	}
	return nil
}

// Clone returns a deep copy with its own buffer and the same ID.
func (f *Frame) Clone() *Frame {
	pixels := make([]byte, len(f.Pixels))
	copy(pixels, f.Pixels)

	meta := make(map[string]string, len(f.Metadata))
	for k, v := range f.Metadata {
		meta[k] = v
	}

	return &Frame{
		ID:         f.ID,
		Pixels:     pixels,
		Width:      f.Width,
		Height:     f.Height,
		Format:     f.Format,
		CapturedAt: f.CapturedAt,
		Metadata:   meta,
	}
}

// Crop copies the region [X1,X2) x [Y1,Y2) into a new Frame. The box must
// have been built against this frame's dimensions.
func (f *Frame) Crop(b BBox) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if b.X2 > f.Width || b.Y2 > f.Height {
		return nil, fmt.Errorf("box %s outside %dx%d frame: %w", b, f.Width, f.Height, ErrValidation)
	}

	bpp := f.Format.BytesPerPixel()
	w, h := b.Width(), b.Height()
	out := make([]byte, w*h*bpp)

	for row := 0; row < h; row++ {
		srcOff := ((b.Y1+row)*f.Width + b.X1) * bpp
		dstOff := row * w * bpp
		copy(out[dstOff:dstOff+w*bpp], f.Pixels[srcOff:srcOff+w*bpp])
	}

	return &Frame{
		ID:         f.ID,
		Pixels:     out,
		Width:      w,
		Height:     h,
		Format:     f.Format,
		CapturedAt: f.CapturedAt,
		Metadata:   map[string]string{"crop": b.String()},
	}, nil
}

// Gray converts the frame to single-channel grayscale using BT.601
// weights. Returns the frame itself if already gray.
func (f *Frame) Gray() (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Format == PixelFormatGray8 {
		return f, nil
	}

	out := make([]byte, f.Width*f.Height)
	for i := 0; i < len(out); i++ {
		b := int(f.Pixels[i*3])
		g := int(f.Pixels[i*3+1])
		r := int(f.Pixels[i*3+2])
		// Integer BT.601: y = 0.299r + 0.587g + 0.114b
		out[i] = byte((299*r + 587*g + 114*b) / 1000)
	}

	return &Frame{
		ID:         f.ID,
		Pixels:     out,
		Width:      f.Width,
		Height:     f.Height,
		Format:     PixelFormatGray8,
		CapturedAt: f.CapturedAt,
		Metadata:   f.Metadata,
	}, nil
}
