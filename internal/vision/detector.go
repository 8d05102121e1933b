package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/skin-advisor/internal/imaging"
)

const (
	detectorInputSize = 640

	// candidateFloor keeps low-confidence boxes alive through NMS so the
	// merger can apply the shared decision threshold itself; sub-threshold
	// detections still need to be visible to it.
	candidateFloor = 0.05
	detectorNMS    = 0.45
)

// DarkCircleDetector localizes the dark-circles condition with a
// single-class YOLOv8 detector. Input contract: 640x640 RGB scaled to [0,1];
// output is a 5x8400 tensor of (cx, cy, w, h, confidence) columns.
type DarkCircleDetector struct {
	net    gocv.Net
	mu     sync.Mutex
	logger *zap.Logger
}

// NewDarkCircleDetector loads the detector weights once for the process
// lifetime.
func NewDarkCircleDetector(modelPath string, logger *zap.Logger) (*DarkCircleDetector, error) {
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("load dark circle detector %s: %w", modelPath, ErrInference)
	}
	logger.Info("dark circle detector loaded", zap.String("model", modelPath))
	return &DarkCircleDetector{net: net, logger: logger.Named("dark_circle_detector")}, nil
}

// Close releases the model.
func (d *DarkCircleDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close() //nolint:errcheck
}

// Score runs one forward pass and returns a ConditionScore per detection
// surviving NMS. Zero detections is a valid outcome, not an error.
func (d *DarkCircleDetector) Score(ctx context.Context, img *imaging.NormalizedImage) ([]ConditionScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(img.Mat, 1.0/255.0, image.Pt(detectorInputSize, detectorInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close() //nolint:errcheck

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close() //nolint:errcheck

	boxes, confidences, err := d.parseDetections(out, img.Width, img.Height)
	if err != nil {
		return nil, err
	}
	if len(boxes) == 0 {
		d.logger.Debug("no dark circle candidates")
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, candidateFloor, detectorNMS)

	scores := make([]ConditionScore, 0, len(indices))
	for _, idx := range indices {
		scores = append(scores, ConditionScore{
			Label:      LabelDarkCircles,
			Confidence: confidences[idx],
			Model:      "dark_circle_detector",
		})
		d.logger.Debug("dark circle detection",
			zap.Float32("confidence", confidences[idx]),
			zap.Any("box", boxes[idx]))
	}
	return scores, nil
}

// parseDetections flattens the YOLOv8 output and scales the candidate boxes
// back into source-image pixel coordinates.
func (d *DarkCircleDetector) parseDetections(out gocv.Mat, width, height int) ([]image.Rectangle, []float32, error) {
	data, err := matToFloats(out)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(data)%5 != 0 {
		return nil, nil, fmt.Errorf("%w: detector output has %d values", ErrInference, len(data))
	}
	cols := len(data) / 5

	xScale := float32(width) / detectorInputSize
	yScale := float32(height) / detectorInputSize

	var boxes []image.Rectangle
	var confidences []float32
	for c := 0; c < cols; c++ {
		conf := data[4*cols+c]
		if conf < candidateFloor {
			continue
		}
		cx := data[c] * xScale
		cy := data[cols+c] * yScale
		w := data[2*cols+c] * xScale
		h := data[3*cols+c] * yScale

		box := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2))
		boxes = append(boxes, clampRect(box, width, height))
		confidences = append(confidences, conf)
	}
	return boxes, confidences, nil
}
