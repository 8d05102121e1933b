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

const classifierInputSize = 224

// ConditionClassifier scores global skin conditions with a multi-label
// classifier. Input contract: 224x224 RGB, pixel values scaled to [0,1];
// output is one sigmoid probability per label in ClassifierLabels order.
type ConditionClassifier struct {
	net    gocv.Net
	mu     sync.Mutex
	logger *zap.Logger
}

// NewConditionClassifier loads the classifier weights once for the process
// lifetime.
func NewConditionClassifier(modelPath string, logger *zap.Logger) (*ConditionClassifier, error) {
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("load condition classifier %s: %w", modelPath, ErrInference)
	}
	logger.Info("condition classifier loaded", zap.String("model", modelPath), zap.Strings("labels", ClassifierLabels))
	return &ConditionClassifier{net: net, logger: logger.Named("condition_classifier")}, nil
}

// Close releases the model.
func (c *ConditionClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.net.Close() //nolint:errcheck
}

// Score runs one forward pass and returns a raw probability per label.
// The per-model mutex serializes access; the net itself is never mutated.
func (c *ConditionClassifier) Score(ctx context.Context, img *imaging.NormalizedImage) ([]ConditionScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blob := gocv.BlobFromImage(img.Mat, 1.0/255.0, image.Pt(classifierInputSize, classifierInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close() //nolint:errcheck

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close() //nolint:errcheck

	probs, err := matToFloats(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(probs) < len(ClassifierLabels) {
		return nil, fmt.Errorf("%w: classifier returned %d outputs, want %d", ErrInference, len(probs), len(ClassifierLabels))
	}

	scores := make([]ConditionScore, 0, len(ClassifierLabels))
	for i, label := range ClassifierLabels {
		scores = append(scores, ConditionScore{
			Label:      label,
			Confidence: probs[i],
			Model:      "condition_classifier",
		})
		c.logger.Debug("classifier probability", zap.String("label", label), zap.Float32("probability", probs[i]))
	}
	return scores, nil
}
