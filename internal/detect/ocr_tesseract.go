package detect

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"platewatch/internal/model"
)

// TesseractEngine is the fallback OCR engine. It expects grayscale crops;
// the pipeline converts color only when this engine is actually reached.
type TesseractEngine struct {
	mu     sync.Mutex
	client *gosseract.Client
	log    zerolog.Logger
}

// NewTesseractEngine configures a Tesseract client restricted to plate
// characters.
func NewTesseractEngine(language string, log zerolog.Logger) (*TesseractEngine, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set ocr language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(crnnAlphabet); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set character whitelist: %w", err)
	}

	return &TesseractEngine{client: client, log: log}, nil
}

// Name identifies the engine in OCR results.
func (e *TesseractEngine) Name() string { return "tesseract" }

// WantsGray reports the engine's expected color layout.
func (e *TesseractEngine) WantsGray() bool { return true }

// Close releases the Tesseract client.
func (e *TesseractEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}

// Recognize reads the plate text from a gray crop. The client is not
// safe for concurrent use, so calls are serialized.
func (e *TesseractEngine) Recognize(ctx context.Context, crop *model.Frame) ([]model.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ocr cancelled: %w", model.ErrTimeout)
	}

	encoded, err := encodeGrayPNG(crop)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(encoded); err != nil {
		return nil, fmt.Errorf("failed to set ocr image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract recognition failed: %w", err)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	var (
		parts   []string
		confSum float64
	)
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		parts = append(parts, word)
		confSum += b.Confidence
	}
	if len(parts) == 0 {
		return nil, nil
	}

	return []model.OCRResult{{
		Text:       strings.Join(parts, ""),
		Confidence: confSum / float64(len(boxes)) / 100.0,
	}}, nil
}

func encodeGrayPNG(crop *model.Frame) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(crop.Height, crop.Width, gocv.MatTypeCV8UC1, crop.Pixels)
	if err != nil {
		return nil, fmt.Errorf("crop to mat: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(".png", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ocr input: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
