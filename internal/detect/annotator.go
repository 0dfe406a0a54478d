package detect

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"platewatch/internal/model"
)

var (
	vehicleColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	plateColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// GoCVAnnotator draws detection boxes and encodes JPEGs with OpenCV.
type GoCVAnnotator struct{}

// NewGoCVAnnotator returns the production annotator.
func NewGoCVAnnotator() *GoCVAnnotator {
	return &GoCVAnnotator{}
}

// Annotate draws vehicle and plate rectangles with labels onto a copy of
// the frame and returns it JPEG-encoded. The source frame is untouched.
func (a *GoCVAnnotator) Annotate(frame *model.Frame, vehicles []model.VehicleDetection, plates []model.PlateDetection) ([]byte, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	for _, v := range vehicles {
		rect := image.Rect(v.Box.X1, v.Box.Y1, v.Box.X2, v.Box.Y2)
		if err := gocv.Rectangle(&mat, rect, vehicleColor, 2); err != nil {
			return nil, fmt.Errorf("failed to draw vehicle box: %w", err)
		}

		label := fmt.Sprintf("%s (%.2f)", v.Label, v.Confidence)
		pt := image.Pt(v.Box.X1, max(v.Box.Y1-5, 10))
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, vehicleColor, 1); err != nil {
			return nil, fmt.Errorf("failed to draw vehicle label: %w", err)
		}
	}

	for _, p := range plates {
		rect := image.Rect(p.Box.X1, p.Box.Y1, p.Box.X2, p.Box.Y2)
		if err := gocv.Rectangle(&mat, rect, plateColor, 2); err != nil {
			return nil, fmt.Errorf("failed to draw plate box: %w", err)
		}
	}

	return encodeJPEG(mat)
}

// EncodeJPEG encodes a frame as JPEG.
func (a *GoCVAnnotator) EncodeJPEG(frame *model.Frame) ([]byte, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return encodeJPEG(mat)
}

func frameToMat(frame *model.Frame) (gocv.Mat, error) {
	matType := gocv.MatTypeCV8UC3
	if frame.Format == model.PixelFormatGray8 {
		matType = gocv.MatTypeCV8UC1
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, matType, frame.Pixels)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("frame to mat: %w", err)
	}
	return mat, nil
}

func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
