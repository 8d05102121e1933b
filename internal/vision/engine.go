package vision

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Default model file names under the configured model directory.
const (
	faceDetectorFile = "face_detection_yunet_2023mar.onnx"
	faceMeshFile     = "face_mesh.onnx"
	classifierFile   = "skin_condition_classifier.onnx"
	darkCircleFile   = "dark_circles_yolov8.onnx"
)

// Config carries the model directory and the fixed confidence knobs.
type Config struct {
	ModelDir            string
	DetectionConfidence float32
	MeshConfidence      float32
	AppendAllFaces      bool
}

// Engine owns the three statically loaded models. It is constructed once at
// startup and read-only afterwards; per-request safety is handled by the
// per-model mutexes inside each adapter.
type Engine struct {
	Face       *FaceMesher
	Classifier *ConditionClassifier
	Detector   *DarkCircleDetector
}

// Scorers returns the ensemble members in a stable order.
func (e *Engine) Scorers() []Scorer {
	return []Scorer{e.Classifier, e.Detector}
}

// Close releases every model.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.Face != nil {
		e.Face.Close()
	}
	if e.Classifier != nil {
		e.Classifier.Close()
	}
	if e.Detector != nil {
		e.Detector.Close()
	}
}

// NewEngine loads all model weights from disk. Any missing or unreadable
// model aborts startup; there is no lazy loading on the request path.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	for _, name := range []string{faceDetectorFile, faceMeshFile, classifierFile, darkCircleFile} {
		path := filepath.Join(cfg.ModelDir, name)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("model file %s: %w", path, err)
		}
	}

	face, err := NewFaceMesher(FaceMesherConfig{
		DetectorModelPath:   filepath.Join(cfg.ModelDir, faceDetectorFile),
		MeshModelPath:       filepath.Join(cfg.ModelDir, faceMeshFile),
		DetectionConfidence: cfg.DetectionConfidence,
		MeshConfidence:      cfg.MeshConfidence,
		AppendAllFaces:      cfg.AppendAllFaces,
	}, logger)
	if err != nil {
		return nil, err
	}

	classifier, err := NewConditionClassifier(filepath.Join(cfg.ModelDir, classifierFile), logger)
	if err != nil {
		face.Close()
		return nil, err
	}

	detector, err := NewDarkCircleDetector(filepath.Join(cfg.ModelDir, darkCircleFile), logger)
	if err != nil {
		face.Close()
		classifier.Close()
		return nil, err
	}

	return &Engine{Face: face, Classifier: classifier, Detector: detector}, nil
}
