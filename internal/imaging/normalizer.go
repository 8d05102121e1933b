package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/jdeng/goheif"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Sentinel errors for upload normalization. Handlers map these to distinct
// HTTP statuses so a bad codec is never confused with a downstream failure.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecodeFailure     = errors.New("image decode failed")
)

// rasterExtensions are containers OpenCV decodes directly.
var rasterExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// heifExtensions are proprietary still-image containers that need the
// dedicated codec path before OpenCV can touch the pixels.
var heifExtensions = map[string]bool{
	".heic": true,
	".heif": true,
}

// NormalizedImage is a raster guaranteed to be an 8-bit 3-channel BGR Mat.
// It is owned by a single pipeline invocation; Close must be called once the
// request is finished with it.
type NormalizedImage struct {
	Mat        gocv.Mat
	Width      int
	Height     int
	StagedPath string

	// owned is set when the Mat was allocated here; a zero-value
	// NormalizedImage carries no buffer and Close is a no-op.
	owned bool
}

// Close releases the underlying raster buffer.
func (n *NormalizedImage) Close() {
	if n != nil && n.owned {
		n.Mat.Close() //nolint:errcheck
		n.owned = false
	}
}

// Normalizer stages uploaded byte blobs into the reference raster encoding.
type Normalizer struct {
	uploadDir string
	logger    *zap.Logger
}

// NewNormalizer creates the normalizer and ensures the staging directory exists.
func NewNormalizer(uploadDir string, logger *zap.Logger) (*Normalizer, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", uploadDir, err)
	}
	return &Normalizer{uploadDir: uploadDir, logger: logger.Named("imaging")}, nil
}

// Normalize decodes the uploaded bytes into a BGR raster and stages a JPEG
// copy under a per-request key. The staged file is a debug artifact; callers
// must not assume durability across requests.
func (n *Normalizer) Normalize(data []byte, filename, key string) (*NormalizedImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrDecodeFailure)
	}

	ext := strings.ToLower(filepath.Ext(filename))

	raster := data
	if heifExtensions[ext] {
		transcoded, err := transcodeHEIF(data)
		if err != nil {
			n.logger.Warn("heif transcode failed", zap.String("extension", ext), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
		}
		raster = transcoded
	} else if ext != "" && !rasterExtensions[ext] {
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}

	mat, err := gocv.IMDecode(raster, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if mat.Empty() {
		mat.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: undecodable payload", ErrDecodeFailure)
	}

	staged := filepath.Join(n.uploadDir, key+".jpg")
	if ok := gocv.IMWrite(staged, mat); !ok {
		n.logger.Warn("failed to stage normalized image", zap.String("path", staged))
		staged = ""
	}

	img := &NormalizedImage{
		Mat:        mat,
		Width:      mat.Cols(),
		Height:     mat.Rows(),
		StagedPath: staged,
		owned:      true,
	}

	n.logger.Debug("image normalized",
		zap.String("extension", ext),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height))

	return img, nil
}

// transcodeHEIF decodes a HEIC/HEIF container and re-encodes it as JPEG so
// the rest of the pipeline only ever sees a standard raster encoding.
func transcodeHEIF(data []byte) ([]byte, error) {
	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("heif decode: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("jpeg re-encode: %w", err)
	}
	return buf.Bytes(), nil
}
