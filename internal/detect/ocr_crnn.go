package detect

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"platewatch/internal/model"
)

// crnnAlphabet is the CTC output alphabet; index 0 is the blank symbol.
const crnnAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CRNNEngine is the primary OCR engine: a CRNN text-recognition network
// run through OpenCV's DNN module. It consumes BGR crops directly.
type CRNNEngine struct {
	mu    sync.Mutex
	net   gocv.Net
	ready bool
	log   zerolog.Logger
}

// NewCRNNEngine loads the recognition model.
func NewCRNNEngine(modelPath string, log zerolog.Logger) *CRNNEngine {
	e := &CRNNEngine{log: log}

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		e.log.Warn().Str("model", modelPath).Msg("ocr model file not found")
		return e
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		e.log.Warn().Str("model", modelPath).Msg("ocr network failed to load")
		return e
	}

	e.net = net
	e.ready = true
	e.log.Info().Str("model", modelPath).Msg("ocr network initialized")
	return e
}

// Name identifies the engine in OCR results.
func (e *CRNNEngine) Name() string { return "crnn" }

// WantsGray reports the engine's expected color layout.
func (e *CRNNEngine) WantsGray() bool { return false }

// Recognize reads the plate text from a crop. The forward pass runs in a
// goroutine so the context's soft timeout is honored even when the model
// is slow; a timed-out pass is abandoned, not retried.
func (e *CRNNEngine) Recognize(ctx context.Context, crop *model.Frame) ([]model.OCRResult, error) {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return nil, model.ErrModelUnavailable
	}
	e.mu.Unlock()

	type outcome struct {
		result model.OCRResult
		err    error
	}

	ch := make(chan outcome, 1)
	go func() {
		res, err := e.forward(crop)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ocr forward pass: %w", model.ErrTimeout)
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		return []model.OCRResult{out.result}, nil
	}
}

func (e *CRNNEngine) forward(crop *model.Frame) (model.OCRResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mat, err := gocv.NewMatFromBytes(crop.Height, crop.Width, gocv.MatTypeCV8UC3, crop.Pixels)
	if err != nil {
		return model.OCRResult{}, fmt.Errorf("crop to mat: %w", err)
	}
	defer mat.Close()

	// CRNN input geometry: 100x32.
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(100, 32),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	// Output shape: T time steps x (1+len(alphabet)) class scores.
	steps := output.Total() / (len(crnnAlphabet) + 1)
	reshaped := output.Reshape(1, steps)
	defer reshaped.Close()

	text, confidence := ctcGreedyDecode(reshaped)
	return model.OCRResult{Text: text, Confidence: confidence}, nil
}

// ctcGreedyDecode picks the best class per time step, collapses repeats
// and drops blanks. Confidence is the mean softmax probability of the
// kept symbols.
func ctcGreedyDecode(scores gocv.Mat) (string, float64) {
	classes := len(crnnAlphabet) + 1

	var (
		text     []byte
		confSum  float64
		kept     int
		prevBest int = -1
	)

	for t := 0; t < scores.Rows(); t++ {
		best := 0
		bestScore := scores.GetFloatAt(t, 0)
		var expSum float64
		for c := 0; c < classes; c++ {
			s := scores.GetFloatAt(t, c)
			expSum += math.Exp(float64(s))
			if s > bestScore {
				bestScore = s
				best = c
			}
		}

		if best != 0 && best != prevBest {
			text = append(text, crnnAlphabet[best-1])
			if expSum > 0 {
				confSum += math.Exp(float64(bestScore)) / expSum
			}
			kept++
		}
		prevBest = best
	}

	if kept == 0 {
		return "", 0
	}
	return string(text), confSum / float64(kept)
}
