package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/model"
	"platewatch/internal/repository"
	"platewatch/internal/storage"
)

// Config tunes the detection pipeline.
type Config struct {
	MinPlateWidth        int
	MinPlateHeight       int
	OCRTimeout           time.Duration
	MinOCRConfidence     float64 // below this the next engine is tried
	TextSimilarity       float64 // dedup threshold on OCR text
	HistogramCorrelation float64 // dedup threshold on plate crops
	CompareWidth         int     // crops are resized to this before comparison
	CompareHeight        int
}

// DefaultConfig returns the pipeline defaults. The 256x128 plate floor is
// the minimum input size the OCR model accepts.
func DefaultConfig() Config {
	return Config{
		MinPlateWidth:        256,
		MinPlateHeight:       128,
		OCRTimeout:           3 * time.Second,
		MinOCRConfidence:     0.3,
		TextSimilarity:       0.85,
		HistogramCorrelation: 0.90,
		CompareWidth:         128,
		CompareHeight:        64,
	}
}

// Status is a read-only view of the pipeline for health checks and the
// readiness gate.
type Status struct {
	ModelsLoaded bool      `json:"models_loaded"`
	Engines      []string  `json:"engines"`
	Processed    uint64    `json:"processed"`
	Persisted    uint64    `json:"persisted"`
	Deduplicated uint64    `json:"deduplicated"`
	LastFrameAt  time.Time `json:"last_frame_at"`
	LastError    string    `json:"last_error,omitempty"`
}

// accepted is the dedup reference: the previous accepted detection's OCR
// text and its plate crop, gray and resized to compare size.
type accepted struct {
	text string
	crop *model.Frame
}

// Pipeline turns one frame into zero or one DetectionRecord. Stages run
// in a fixed order and each one short-circuits on an empty result; a
// failing stage drops the frame, never the scheduler.
type Pipeline struct {
	vehicles  VehicleDetector
	plates    PlateDetector
	engines   []OCREngine // primary first
	annotator Annotator
	repo      repository.DetectionRepository
	images    *storage.ImageWriter
	cfg       Config
	log       zerolog.Logger

	mu           sync.Mutex
	prev         *accepted
	processed    uint64
	persisted    uint64
	deduplicated uint64
	lastFrameAt  time.Time
	lastError    string
}

// NewPipeline wires the detection cascade.
func NewPipeline(
	vehicles VehicleDetector,
	plates PlateDetector,
	engines []OCREngine,
	annotator Annotator,
	repo repository.DetectionRepository,
	images *storage.ImageWriter,
	cfg Config,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		vehicles:  vehicles,
		plates:    plates,
		engines:   engines,
		annotator: annotator,
		repo:      repo,
		images:    images,
		cfg:       cfg,
		log:       log,
	}
}

// Process runs the cascade on one frame. A nil record with a nil error
// means "no detection this frame", the normal outcome for an empty road.
// Stage failures are logged with the stage name and absorbed.
func (p *Pipeline) Process(frame *model.Frame) (rec *model.DetectionRecord, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("pipeline stage panicked, frame dropped")
			p.noteError(fmt.Sprintf("panic: %v", r))
			rec, err = nil, nil
		}
	}()

	p.mu.Lock()
	p.processed++
	p.lastFrameAt = time.Now()
	p.mu.Unlock()

	// Stage 1: validate.
	if verr := frame.Validate(); verr != nil {
		p.stageFailed("validate", verr)
		return nil, nil
	}

	// Stage 2: vehicles. Zero vehicles ends the frame before any further
	// model time is spent.
	vehicles, verr := p.vehicles.Detect(frame)
	if verr != nil {
		p.stageFailed("vehicle", verr)
		return nil, nil
	}
	if len(vehicles) == 0 {
		return nil, nil
	}

	// Stage 3: plates, restricted to vehicle ROIs, mapped back to frame
	// coordinates by the ROI origin.
	plates := p.detectPlates(frame, vehicles)

	// Stage 4: size gate. The OCR model needs a minimum input size.
	sized := p.sizeGate(plates)

	// Stage 5: OCR with fallback chain, one plate at a time.
	ocrResults, plateCrops := p.runOCR(frame, sized)

	// Stage 6: dedup against the immediately previous accepted detection.
	if p.isDuplicate(ocrResults, plateCrops) {
		p.mu.Lock()
		p.deduplicated++
		p.mu.Unlock()
		p.log.Debug().Msg("duplicate of previous detection, skipping persistence")
		return nil, nil
	}

	// Stage 7: persist. A vehicle with no readable plate still becomes a
	// vehicle-only record so analytics can see traffic.
	record, perr := p.persist(frame, vehicles, sized, ocrResults, plateCrops, start)
	if perr != nil {
		p.stageFailed("persist", perr)
		return nil, nil
	}

	p.mu.Lock()
	p.persisted++
	p.mu.Unlock()
	return record, nil
}

func (p *Pipeline) detectPlates(frame *model.Frame, vehicles []model.VehicleDetection) []model.PlateDetection {
	var out []model.PlateDetection
	for _, v := range vehicles {
		roi, err := frame.Crop(v.Box)
		if err != nil {
			p.stageFailed("plate-crop", err)
			continue
		}

		found, err := p.plates.Detect(roi)
		if err != nil {
			p.stageFailed("plate", err)
			continue
		}

		for _, pl := range found {
			mapped, err := pl.Box.Offset(v.Box.X1, v.Box.Y1, frame.Width, frame.Height)
			if err != nil {
				p.stageFailed("plate-map", err)
				continue
			}
			out = append(out, model.PlateDetection{Box: mapped, Confidence: pl.Confidence})
		}
	}
	return out
}

func (p *Pipeline) sizeGate(plates []model.PlateDetection) []model.PlateDetection {
	var out []model.PlateDetection
	for _, pl := range plates {
		if pl.Box.Width() < p.cfg.MinPlateWidth || pl.Box.Height() < p.cfg.MinPlateHeight {
			p.log.Debug().Stringer("box", pl.Box).
				Int("min_width", p.cfg.MinPlateWidth).Int("min_height", p.cfg.MinPlateHeight).
				Msg("plate below OCR minimum size, skipped")
			continue
		}
		out = append(out, pl)
	}
	return out
}

// runOCR crops each gated plate and reads it through the engine chain.
// Returns the OCR results and the crops that produced them.
func (p *Pipeline) runOCR(frame *model.Frame, plates []model.PlateDetection) ([]model.OCRResult, []*model.Frame) {
	var (
		results []model.OCRResult
		crops   []*model.Frame
	)

	for _, pl := range plates {
		crop, err := frame.Crop(pl.Box)
		if err != nil {
			p.stageFailed("ocr-crop", err)
			continue
		}
		crops = append(crops, crop)

		if res, ok := p.readPlate(crop); ok {
			results = append(results, res)
		}
	}
	return results, crops
}

// readPlate tries each engine in order until one produces a confident,
// non-empty result. Color conversion for an engine that wants grayscale
// happens here and nowhere earlier, so frames that never reach OCR never
// pay for it.
func (p *Pipeline) readPlate(crop *model.Frame) (model.OCRResult, bool) {
	for _, engine := range p.engines {
		input := crop
		if engine.WantsGray() {
			gray, err := crop.Gray()
			if err != nil {
				p.stageFailed("ocr-gray", err)
				continue
			}
			input = gray
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OCRTimeout)
		found, err := engine.Recognize(ctx, input)
		cancel()

		if err != nil {
			p.log.Warn().Err(err).Str("engine", engine.Name()).Msg("ocr engine failed, trying next")
			continue
		}

		best, ok := bestResult(found, p.cfg.MinOCRConfidence)
		if !ok {
			p.log.Debug().Str("engine", engine.Name()).Msg("ocr result empty or low confidence, trying next")
			continue
		}
		best.Engine = engine.Name()
		return best, true
	}
	return model.OCRResult{}, false
}

func bestResult(results []model.OCRResult, minConfidence float64) (model.OCRResult, bool) {
	best := model.OCRResult{Confidence: -1}
	for _, r := range results {
		if r.Text != "" && r.Confidence > best.Confidence {
			best = r
		}
	}
	if best.Text == "" || best.Confidence < minConfidence {
		return model.OCRResult{}, false
	}
	return best, true
}

// isDuplicate compares this frame's best OCR text and first plate crop
// against the previous accepted detection. Either signal tripping marks
// the frame a duplicate. Frames without plates never dedup.
func (p *Pipeline) isDuplicate(results []model.OCRResult, crops []*model.Frame) bool {
	if len(crops) == 0 {
		return false
	}

	p.mu.Lock()
	prev := p.prev
	p.mu.Unlock()
	if prev == nil {
		return false
	}

	if len(results) > 0 && prev.text != "" {
		ratio := TextRatio(results[0].Text, prev.text)
		if ratio > p.cfg.TextSimilarity {
			p.log.Debug().Float64("ratio", ratio).Str("text", results[0].Text).
				Str("previous", prev.text).Msg("text similarity tripped")
			return true
		}
	}

	if prev.crop != nil {
		gray, err := crops[0].Gray()
		if err != nil {
			p.stageFailed("dedup-gray", err)
			return false
		}
		corr := HistogramCorrelation(
			ResizeGray(gray, p.cfg.CompareWidth, p.cfg.CompareHeight), prev.crop)
		if corr > p.cfg.HistogramCorrelation {
			p.log.Debug().Float64("correlation", corr).Msg("histogram correlation tripped")
			return true
		}
	}
	return false
}

func (p *Pipeline) persist(
	frame *model.Frame,
	vehicles []model.VehicleDetection,
	plates []model.PlateDetection,
	results []model.OCRResult,
	crops []*model.Frame,
	start time.Time,
) (*model.DetectionRecord, error) {
	annotated, err := p.annotator.Annotate(frame, vehicles, plates)
	if err != nil {
		return nil, fmt.Errorf("annotate frame: %w", err)
	}

	stamp := frame.CapturedAt.Format("20060102_150405.000")
	annotatedPath, err := p.images.Write(fmt.Sprintf("%s_%s.jpg", stamp, frame.ID), annotated)
	if err != nil {
		return nil, fmt.Errorf("queue annotated frame: %w", err)
	}

	var cropPaths []string
	for i, crop := range crops {
		encoded, err := p.annotator.EncodeJPEG(crop)
		if err != nil {
			p.stageFailed("encode-crop", err)
			continue
		}
		path, err := p.images.Write(fmt.Sprintf("%s_%s_plate%d.jpg", stamp, frame.ID, i), encoded)
		if err != nil {
			p.stageFailed("queue-crop", err)
			continue
		}
		cropPaths = append(cropPaths, path)
	}

	record := &model.DetectionRecord{
		UID:                frame.ID,
		Timestamp:          frame.CapturedAt,
		VehicleBoxes:       vehicles,
		PlateBoxes:         plates,
		OCRResults:         results,
		AnnotatedImagePath: annotatedPath,
		CroppedPlatePaths:  cropPaths,
		ProcessingTimeMS:   time.Since(start).Milliseconds(),
	}

	if _, err := p.repo.Insert(record); err != nil {
		return nil, fmt.Errorf("insert record: %v: %w", err, model.ErrPersistence)
	}

	// Update the dedup reference only when this detection carried a plate.
	if len(crops) > 0 {
		ref := &accepted{}
		if len(results) > 0 {
			ref.text = results[0].Text
		}
		if gray, err := crops[0].Gray(); err == nil {
			ref.crop = ResizeGray(gray, p.cfg.CompareWidth, p.cfg.CompareHeight)
		}
		p.mu.Lock()
		p.prev = ref
		p.mu.Unlock()
	}

	p.log.Info().Int("vehicles", len(vehicles)).Int("plates", len(plates)).
		Str("plate_text", record.BestPlateText()).
		Int64("processing_ms", record.ProcessingTimeMS).
		Msg("detection persisted")
	return record, nil
}

func (p *Pipeline) stageFailed(stage string, err error) {
	p.log.Warn().Err(err).Str("stage", stage).Msg("pipeline stage failed")
	p.noteError(fmt.Sprintf("%s: %v", stage, err))
}

func (p *Pipeline) noteError(msg string) {
	p.mu.Lock()
	p.lastError = msg
	p.mu.Unlock()
}

// ModelsLoaded reports whether both detection models are usable.
func (p *Pipeline) ModelsLoaded() bool {
	return p.vehicles.Ready() && p.plates.Ready()
}

// Status returns a snapshot of pipeline counters and model state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	engines := make([]string, 0, len(p.engines))
	for _, e := range p.engines {
		engines = append(engines, e.Name())
	}

	return Status{
		ModelsLoaded: p.vehicles.Ready() && p.plates.Ready(),
		Engines:      engines,
		Processed:    p.processed,
		Persisted:    p.persisted,
		Deduplicated: p.deduplicated,
		LastFrameAt:  p.lastFrameAt,
		LastError:    p.lastError,
	}
}
