package vision

import (
	"context"
	"errors"
	"math"

	"github.com/example/skin-advisor/internal/imaging"
)

// ErrInference marks a scoring model failure. It is fatal to the request and
// distinct from both decode errors and the "no face" outcome.
var ErrInference = errors.New("model inference failed")

// Closed concern vocabulary. The classifier covers the first three labels,
// the localized detector covers dark circles.
const (
	LabelAcne         = "Acne"
	LabelPigmentation = "Pigmentation"
	LabelWrinkles     = "Wrinkles"
	LabelDarkCircles  = "Dark Circles"
)

// ClassifierLabels is the output order of the multi-label classifier.
var ClassifierLabels = []string{LabelAcne, LabelPigmentation, LabelWrinkles}

// Vocabulary returns every concern label the system can report.
func Vocabulary() []string {
	return []string{LabelAcne, LabelPigmentation, LabelWrinkles, LabelDarkCircles}
}

// Point is a landmark position in normalized [0,1] image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pixel projects the normalized point onto an image of the given dimensions,
// flooring to match the overlay drawing coordinates.
func (p Point) Pixel(width, height int) (int, int) {
	return int(math.Floor(p.X * float64(width))), int(math.Floor(p.Y * float64(height)))
}

// Landmarks holds the named anatomical regions of a detected face. Each
// region list has a fixed per-face length: 2, 2, 1 and 4 points respectively.
// With multi-face accumulation enabled the lists grow by that stride per face.
type Landmarks struct {
	RightEye []Point `json:"right_eye"`
	LeftEye  []Point `json:"left_eye"`
	Nose     []Point `json:"nose"`
	Mouth    []Point `json:"mouth"`
}

// FaceScan is the face gate outcome. FaceCount zero means no face was found
// and the rest of the pipeline must be skipped.
type FaceScan struct {
	FaceCount     int
	Landmarks     Landmarks
	AnnotatedPath string
}

// ConditionScore is a single raw model output before thresholding.
type ConditionScore struct {
	Label      string
	Confidence float32
	Model      string
}

// Scorer is the capability the ensemble stage depends on; each model adapter
// hides its own preprocessing and output-shape contract behind it.
type Scorer interface {
	Score(ctx context.Context, img *imaging.NormalizedImage) ([]ConditionScore, error)
}

// FaceAnalyzer is the gate/extractor capability used by the pipeline.
type FaceAnalyzer interface {
	Analyze(ctx context.Context, img *imaging.NormalizedImage) (*FaceScan, error)
}
