package model

import "time"

// VehicleDetection is one vehicle found in a frame.
type VehicleDetection struct {
	Box        BBox    `json:"box"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// PlateDetection is one license plate found inside a vehicle ROI,
// expressed in full-frame coordinates.
type PlateDetection struct {
	Box        BBox    `json:"box"`
	Confidence float64 `json:"confidence"`
}

// OCRResult is the text read from one plate crop by a named engine.
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
}

// DetectionRecord is one row per processed frame that produced at least a
// vehicle detection. The delivered flag flips to true only after a
// confirmed ack from the remote server; nothing else mutates a record.
type DetectionRecord struct {
	ID                 int64              `json:"id"`
	UID                string             `json:"uid"`
	Timestamp          time.Time          `json:"timestamp"`
	VehicleBoxes       []VehicleDetection `json:"vehicle_boxes"`
	PlateBoxes         []PlateDetection   `json:"plate_boxes"`
	OCRResults         []OCRResult        `json:"ocr_results"`
	AnnotatedImagePath string             `json:"annotated_image_path"`
	CroppedPlatePaths  []string           `json:"cropped_plate_paths"`
	ProcessingTimeMS   int64              `json:"processing_time_ms"`
	Delivered          bool               `json:"delivered"`
	DeliveredAt        *time.Time         `json:"delivered_at,omitempty"`
}

// BestPlateText returns the highest-confidence OCR text, or "" when the
// record is vehicle-only.
func (r *DetectionRecord) BestPlateText() string {
	best := ""
	conf := -1.0
	for _, o := range r.OCRResults {
		if o.Confidence > conf && o.Text != "" {
			best = o.Text
			conf = o.Confidence
		}
	}
	return best
}
