package model

import (
	"fmt"
	"math"
)

// BBox is a bounding box in pixel coordinates of a specific frame.
// Boxes are only built through NewBBox, which clips to frame bounds and
// rejects degenerate results, so downstream crops never index out of range.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// NewBBox builds a BBox from raw (possibly fractional, possibly
// out-of-range) model output. Coordinates are clipped into
// [0, frameW-1] x [0, frameH-1] and truncated to integers.
func NewBBox(x1, y1, x2, y2 float64, frameW, frameH int) (BBox, error) {
	if frameW <= 0 || frameH <= 0 {
		return BBox{}, fmt.Errorf("frame size %dx%d: %w", frameW, frameH, ErrValidation)
	}

	b := BBox{
		X1: clipInt(x1, frameW-1),
		Y1: clipInt(y1, frameH-1),
		X2: clipInt(x2, frameW-1),
		Y2: clipInt(y2, frameH-1),
	}

	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return BBox{}, fmt.Errorf("degenerate box (%.1f,%.1f,%.1f,%.1f) in %dx%d frame: %w",
			x1, y1, x2, y2, frameW, frameH, ErrValidation)
	}

	return b, nil
}

func clipInt(v float64, max int) int {
	i := int(math.Floor(v))
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

// Width returns the box width in pixels.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Offset shifts the box by (dx, dy), clipping the result to the given
// frame size. Used to map ROI-local detections back to frame space.
func (b BBox) Offset(dx, dy, frameW, frameH int) (BBox, error) {
	return NewBBox(float64(b.X1+dx), float64(b.Y1+dy), float64(b.X2+dx), float64(b.Y2+dy), frameW, frameH)
}

func (b BBox) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}
