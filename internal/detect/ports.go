package detect

import (
	"context"

	"platewatch/internal/model"
)

// VehicleDetector finds vehicles in a full frame.
type VehicleDetector interface {
	Detect(frame *model.Frame) ([]model.VehicleDetection, error)
	// Ready reports whether the model is loaded and usable.
	Ready() bool
}

// PlateDetector finds license plates inside a vehicle ROI. Returned boxes
// are in ROI-local coordinates; the pipeline maps them back to frame
// space.
type PlateDetector interface {
	Detect(roi *model.Frame) ([]model.PlateDetection, error)
	Ready() bool
}

// OCREngine reads text from a plate crop. Engines are tried in order;
// the first one to produce a usable result wins.
type OCREngine interface {
	Name() string
	Recognize(ctx context.Context, crop *model.Frame) ([]model.OCRResult, error)
	// WantsGray reports whether the engine expects a grayscale crop. The
	// conversion happens only at the OCR stage, never earlier.
	WantsGray() bool
}

// Annotator renders detections onto a frame and encodes images for
// persistence.
type Annotator interface {
	// Annotate draws vehicle and plate boxes onto a copy of the frame and
	// returns it JPEG-encoded.
	Annotate(frame *model.Frame, vehicles []model.VehicleDetection, plates []model.PlateDetection) ([]byte, error)
	// EncodeJPEG encodes a frame (typically a plate crop) as JPEG.
	EncodeJPEG(frame *model.Frame) ([]byte, error)
}
