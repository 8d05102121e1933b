package vision

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/skin-advisor/internal/imaging"
)

// Mesh indices of the named anatomical regions (468-point face mesh).
var (
	rightEyeIdx = []int{33, 133}
	leftEyeIdx  = []int{263, 362}
	noseIdx     = []int{1}
	mouthIdx    = []int{61, 146, 291, 375}
)

const (
	meshInputSize  = 192
	meshPointCount = 468
)

// Overlay colors per region, matching the reference annotation.
var (
	colorRightEye = color.RGBA{G: 255}
	colorLeftEye  = color.RGBA{B: 255}
	colorNose     = color.RGBA{R: 255}
	colorMouth    = color.RGBA{G: 255, B: 255}
	colorMesh     = color.RGBA{R: 200, G: 200, B: 200}
)

// FaceMesher gates the pipeline on face presence and extracts the named
// landmark regions. It wraps two nets: a YuNet face detector and a dense
// face-mesh regressor run per detected face. Neither net is safe for
// concurrent use, so every Analyze call is serialized on one mutex.
type FaceMesher struct {
	detector       gocv.FaceDetectorYN
	mesh           gocv.Net
	meshThreshold  float32
	appendAllFaces bool
	mu             sync.Mutex
	logger         *zap.Logger
}

// FaceMesherConfig carries the fixed detection/tracking confidence knobs.
type FaceMesherConfig struct {
	DetectorModelPath   string
	MeshModelPath       string
	DetectionConfidence float32
	MeshConfidence      float32
	// AppendAllFaces preserves the reference multi-face behavior of
	// concatenating every detected face's points into the same region
	// lists. When false only the highest-confidence face contributes.
	AppendAllFaces bool
}

// NewFaceMesher loads both face models. Weights are read once and held
// read-only for the process lifetime.
func NewFaceMesher(cfg FaceMesherConfig, logger *zap.Logger) (*FaceMesher, error) {
	detector := gocv.NewFaceDetectorYN(cfg.DetectorModelPath, "", image.Pt(320, 320))
	detector.SetScoreThreshold(cfg.DetectionConfidence)
	detector.SetNMSThreshold(0.3)
	detector.SetTopK(16)

	mesh := gocv.ReadNet(cfg.MeshModelPath, "")
	if mesh.Empty() {
		detector.Close() //nolint:errcheck
		return nil, fmt.Errorf("load face mesh model %s: %w", cfg.MeshModelPath, ErrInference)
	}

	logger.Info("face models loaded",
		zap.String("detector", cfg.DetectorModelPath),
		zap.String("mesh", cfg.MeshModelPath),
		zap.Float32("detection_confidence", cfg.DetectionConfidence),
		zap.Float32("mesh_confidence", cfg.MeshConfidence))

	return &FaceMesher{
		detector:       detector,
		mesh:           mesh,
		meshThreshold:  cfg.MeshConfidence,
		appendAllFaces: cfg.AppendAllFaces,
		logger:         logger.Named("face_mesher"),
	}, nil
}

// Close releases the underlying models.
func (f *FaceMesher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detector.Close() //nolint:errcheck
	f.mesh.Close()     //nolint:errcheck
}

type detectedFace struct {
	box   image.Rectangle
	score float32
}

// Analyze runs the face gate. A FaceScan with FaceCount zero is the sentinel
// "no face" outcome; it is a normal result, not an error.
func (f *FaceMesher) Analyze(ctx context.Context, img *imaging.NormalizedImage) (*FaceScan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	faces, err := f.detectFaces(img)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		f.logger.Info("no face detected", zap.Int("width", img.Width), zap.Int("height", img.Height))
		return &FaceScan{FaceCount: 0}, nil
	}

	sort.Slice(faces, func(i, j int) bool { return faces[i].score > faces[j].score })
	if !f.appendAllFaces {
		faces = faces[:1]
	}

	overlay := img.Mat.Clone()
	defer overlay.Close() //nolint:errcheck

	scan := &FaceScan{}
	for _, face := range faces {
		points, ok, err := f.meshFace(img, face.box)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		scan.FaceCount++
		appendRegions(&scan.Landmarks, points)
		drawFace(&overlay, points, img.Width, img.Height)
	}

	if scan.FaceCount == 0 {
		return &FaceScan{FaceCount: 0}, nil
	}

	scan.AnnotatedPath = writeOverlay(img.StagedPath, overlay, f.logger)

	f.logger.Info("face landmarks extracted",
		zap.Int("faces", scan.FaceCount),
		zap.Int("mouth_points", len(scan.Landmarks.Mouth)))

	return scan, nil
}

// detectFaces runs YuNet over the full frame and returns clamped face boxes.
func (f *FaceMesher) detectFaces(img *imaging.NormalizedImage) ([]detectedFace, error) {
	f.detector.SetInputSize(image.Pt(img.Width, img.Height))

	results := gocv.NewMat()
	defer results.Close() //nolint:errcheck

	f.detector.Detect(img.Mat, &results)

	var faces []detectedFace
	for i := 0; i < results.Rows(); i++ {
		x := int(results.GetFloatAt(i, 0))
		y := int(results.GetFloatAt(i, 1))
		w := int(results.GetFloatAt(i, 2))
		h := int(results.GetFloatAt(i, 3))
		score := results.GetFloatAt(i, 14)

		box := clampRect(image.Rect(x, y, x+w, y+h), img.Width, img.Height)
		if box.Dx() <= 0 || box.Dy() <= 0 {
			continue
		}
		faces = append(faces, detectedFace{box: box, score: score})
		f.logger.Debug("face candidate", zap.Float32("score", score), zap.Any("box", box))
	}
	return faces, nil
}

// meshFace crops the detected face, runs the mesh regressor and maps every
// point back into normalized full-image coordinates.
func (f *FaceMesher) meshFace(img *imaging.NormalizedImage, box image.Rectangle) ([]Point, bool, error) {
	crop := expandRect(box, 1.5, img.Width, img.Height)

	region := img.Mat.Region(crop)
	defer region.Close() //nolint:errcheck

	resized := gocv.NewMat()
	defer resized.Close() //nolint:errcheck
	gocv.Resize(region, &resized, image.Pt(meshInputSize, meshInputSize), 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(resized, 1.0/255.0, image.Pt(meshInputSize, meshInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close() //nolint:errcheck

	f.mesh.SetInput(blob, "")
	outputs := f.mesh.ForwardLayers([]string{"conv2d_21", "conv2d_31"})
	if len(outputs) != 2 {
		closeMats(outputs)
		return nil, false, fmt.Errorf("%w: face mesh returned %d outputs", ErrInference, len(outputs))
	}
	defer closeMats(outputs)

	coords, err := matToFloats(outputs[0])
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(coords) < meshPointCount*3 {
		return nil, false, fmt.Errorf("%w: face mesh output has %d values", ErrInference, len(coords))
	}

	scoreRaw, err := matToFloats(outputs[1])
	if err != nil || len(scoreRaw) == 0 {
		return nil, false, fmt.Errorf("%w: face mesh score missing", ErrInference)
	}
	presence := sigmoid(scoreRaw[0])
	if presence < f.meshThreshold {
		f.logger.Debug("mesh presence below threshold", zap.Float32("presence", presence))
		return nil, false, nil
	}

	points := make([]Point, meshPointCount)
	for i := 0; i < meshPointCount; i++ {
		cx := float64(coords[i*3]) / meshInputSize
		cy := float64(coords[i*3+1]) / meshInputSize
		points[i] = Point{
			X: clamp01((float64(crop.Min.X) + cx*float64(crop.Dx())) / float64(img.Width)),
			Y: clamp01((float64(crop.Min.Y) + cy*float64(crop.Dy())) / float64(img.Height)),
		}
	}
	return points, true, nil
}

// appendRegions appends the region points of one face into the shared lists.
func appendRegions(lm *Landmarks, mesh []Point) {
	for _, idx := range rightEyeIdx {
		lm.RightEye = append(lm.RightEye, mesh[idx])
	}
	for _, idx := range leftEyeIdx {
		lm.LeftEye = append(lm.LeftEye, mesh[idx])
	}
	for _, idx := range noseIdx {
		lm.Nose = append(lm.Nose, mesh[idx])
	}
	for _, idx := range mouthIdx {
		lm.Mouth = append(lm.Mouth, mesh[idx])
	}
}

// drawFace renders the diagnostic overlay: a dot per mesh point plus larger
// colored circles for the named regions. Pure side effect; the returned
// landmark values never depend on it.
func drawFace(overlay *gocv.Mat, mesh []Point, width, height int) {
	for _, p := range mesh {
		x, y := p.Pixel(width, height)
		gocv.Circle(overlay, image.Pt(x, y), 1, colorMesh, -1)
	}
	drawRegion(overlay, mesh, rightEyeIdx, colorRightEye, width, height)
	drawRegion(overlay, mesh, leftEyeIdx, colorLeftEye, width, height)
	drawRegion(overlay, mesh, noseIdx, colorNose, width, height)
	drawRegion(overlay, mesh, mouthIdx, colorMouth, width, height)
}

func drawRegion(overlay *gocv.Mat, mesh []Point, indices []int, c color.RGBA, width, height int) {
	for _, idx := range indices {
		x, y := mesh[idx].Pixel(width, height)
		gocv.Circle(overlay, image.Pt(x, y), 3, c, -1)
	}
}

// writeOverlay persists the annotated frame next to the staged upload.
func writeOverlay(stagedPath string, overlay gocv.Mat, logger *zap.Logger) string {
	if stagedPath == "" {
		return ""
	}
	annotated := strings.TrimSuffix(stagedPath, ".jpg") + "_annotated.jpg"
	if ok := gocv.IMWrite(annotated, overlay); !ok {
		logger.Warn("failed to write annotated image", zap.String("path", annotated))
		return ""
	}
	return annotated
}

func clampRect(r image.Rectangle, width, height int) image.Rectangle {
	return r.Intersect(image.Rect(0, 0, width, height))
}

// expandRect grows the box around its center to a square scaled crop, clamped
// to the frame.
func expandRect(r image.Rectangle, scale float64, width, height int) image.Rectangle {
	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y) / 2
	side := math.Max(float64(r.Dx()), float64(r.Dy())) * scale
	half := side / 2
	out := image.Rect(int(cx-half), int(cy-half), int(cx+half), int(cy+half))
	out = clampRect(out, width, height)
	if out.Dx() <= 0 || out.Dy() <= 0 {
		return r
	}
	return out
}

func sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func closeMats(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close() //nolint:errcheck
	}
}

// matToFloats flattens a network output of any shape into a float32 slice.
func matToFloats(m gocv.Mat) ([]float32, error) {
	flat := gocv.NewMat()
	defer flat.Close() //nolint:errcheck
	m.ConvertTo(&flat, gocv.MatTypeCV32F)
	data, err := flat.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}
