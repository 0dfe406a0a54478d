package detect

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"platewatch/internal/model"
)

// ssdNet wraps a gocv DNN loaded from disk. The forward pass produces
// rows of 7 floats: [batch, classID, confidence, x1, y1, x2, y2] with
// coordinates normalized to [0,1].
type ssdNet struct {
	mu        sync.Mutex
	net       gocv.Net
	ready     bool
	inputSize image.Point
	threshold float32
	log       zerolog.Logger
}

func newSSDNet(modelPath, configPath string, inputSize image.Point, threshold float32, log zerolog.Logger) *ssdNet {
	n := &ssdNet{inputSize: inputSize, threshold: threshold, log: log}

	if err := n.load(modelPath, configPath); err != nil {
		n.log.Warn().Err(err).Str("model", modelPath).Msg("detection network not loaded")
		return n
	}
	return n
}

func (n *ssdNet) load(modelPath, configPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found %s: %w", modelPath, model.ErrModelUnavailable)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found %s: %w", configPath, model.ErrModelUnavailable)
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s: %w", modelPath, model.ErrModelUnavailable)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		return fmt.Errorf("failed to set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		return fmt.Errorf("failed to set target: %w", err)
	}

	n.net = net
	n.ready = true
	n.log.Info().Str("model", modelPath).Msg("detection network initialized")
	return nil
}

type rawDetection struct {
	classID    int
	confidence float64
	box        model.BBox
}

// forward runs one frame through the network and returns detections above
// the confidence threshold, with boxes clipped to the frame.
func (n *ssdNet) forward(frame *model.Frame) ([]rawDetection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.ready {
		return nil, model.ErrModelUnavailable
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return nil, fmt.Errorf("frame to mat: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, n.inputSize,
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	output := n.net.Forward("")
	defer output.Close()

	var results []rawDetection

	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()
	for i := 0; i < reshaped.Rows(); i++ {
		confidence := reshaped.GetFloatAt(i, 2)
		if confidence <= n.threshold {
			continue
		}

		box, err := model.NewBBox(
			float64(reshaped.GetFloatAt(i, 3))*float64(frame.Width),
			float64(reshaped.GetFloatAt(i, 4))*float64(frame.Height),
			float64(reshaped.GetFloatAt(i, 5))*float64(frame.Width),
			float64(reshaped.GetFloatAt(i, 6))*float64(frame.Height),
			frame.Width, frame.Height,
		)
		if err != nil {
			// Degenerate model output for this row, not a frame failure.
			n.log.Debug().Err(err).Msg("dropped degenerate detection box")
			continue
		}

		results = append(results, rawDetection{
			classID:    int(reshaped.GetFloatAt(i, 1)),
			confidence: float64(confidence),
			box:        box,
		})
	}
	return results, nil
}

func (n *ssdNet) isReady() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ready
}

// vehicleClasses maps SSD class IDs to the vehicle labels we keep.
// Non-vehicle classes (people, animals) are dropped at this layer.
var vehicleClasses = map[int]string{
	3: "car",
	4: "motorcycle",
	6: "bus",
	8: "truck",
}

// DNNVehicleDetector finds vehicles with an SSD-style network.
type DNNVehicleDetector struct {
	net *ssdNet
}

// NewDNNVehicleDetector loads the vehicle model.
func NewDNNVehicleDetector(modelPath, configPath string, log zerolog.Logger) *DNNVehicleDetector {
	return &DNNVehicleDetector{
		net: newSSDNet(modelPath, configPath, image.Pt(300, 300), 0.5, log),
	}
}

// Detect returns the vehicles found in a full frame.
func (d *DNNVehicleDetector) Detect(frame *model.Frame) ([]model.VehicleDetection, error) {
	raw, err := d.net.forward(frame)
	if err != nil {
		return nil, err
	}

	var out []model.VehicleDetection
	for _, r := range raw {
		label, ok := vehicleClasses[r.classID]
		if !ok {
			continue
		}
		out = append(out, model.VehicleDetection{Box: r.box, Label: label, Confidence: r.confidence})
	}
	return out, nil
}

// Ready reports whether the vehicle model is loaded.
func (d *DNNVehicleDetector) Ready() bool { return d.net.isReady() }

// DNNPlateDetector finds license plates inside a vehicle ROI with a
// single-class SSD-style network.
type DNNPlateDetector struct {
	net *ssdNet
}

// NewDNNPlateDetector loads the plate model.
func NewDNNPlateDetector(modelPath, configPath string, log zerolog.Logger) *DNNPlateDetector {
	return &DNNPlateDetector{
		net: newSSDNet(modelPath, configPath, image.Pt(300, 300), 0.4, log),
	}
}

// Detect returns plates in ROI-local coordinates.
func (d *DNNPlateDetector) Detect(roi *model.Frame) ([]model.PlateDetection, error) {
	raw, err := d.net.forward(roi)
	if err != nil {
		return nil, err
	}

	var out []model.PlateDetection
	for _, r := range raw {
		out = append(out, model.PlateDetection{Box: r.box, Confidence: r.confidence})
	}
	return out, nil
}

// Ready reports whether the plate model is loaded.
func (d *DNNPlateDetector) Ready() bool { return d.net.isReady() }
