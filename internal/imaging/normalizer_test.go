package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func pngFixture(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeDecodesStandardRaster(t *testing.T) {
	normalizer, err := NewNormalizer(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create normalizer: %v", err)
	}

	img, err := normalizer.Normalize(pngFixture(t, 64, 48), "selfie.png", "req-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	defer img.Close()

	if img.Width != 64 || img.Height != 48 {
		t.Fatalf("got %dx%d, want 64x48", img.Width, img.Height)
	}
	if img.Mat.Empty() {
		t.Fatal("expected a decoded raster buffer")
	}
	if img.Mat.Channels() != 3 {
		t.Fatalf("expected 3-channel raster, got %d", img.Mat.Channels())
	}
}

func TestNormalizeStagesPerRequestKey(t *testing.T) {
	dir := t.TempDir()
	normalizer, err := NewNormalizer(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create normalizer: %v", err)
	}

	first, err := normalizer.Normalize(pngFixture(t, 32, 32), "a.png", "req-a")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	defer first.Close()

	second, err := normalizer.Normalize(pngFixture(t, 32, 32), "b.png", "req-b")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	defer second.Close()

	if first.StagedPath == second.StagedPath {
		t.Fatalf("staging keys must be unique per request, both %s", first.StagedPath)
	}
	for _, path := range []string{first.StagedPath, second.StagedPath} {
		if path == "" {
			t.Fatal("expected a staged path")
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("staged file %s missing: %v", path, err)
		}
		if filepath.Dir(path) != dir {
			t.Fatalf("staged file %s outside upload dir %s", path, dir)
		}
	}
}

func TestNormalizeRejectsUnknownExtension(t *testing.T) {
	normalizer, err := NewNormalizer(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create normalizer: %v", err)
	}

	_, err = normalizer.Normalize([]byte("not an image"), "report.pdf", "req-1")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNormalizeReportsDecodeFailure(t *testing.T) {
	normalizer, err := NewNormalizer(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create normalizer: %v", err)
	}

	_, err = normalizer.Normalize([]byte("garbage bytes"), "broken.jpg", "req-1")
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestNormalizeRejectsEmptyUpload(t *testing.T) {
	normalizer, err := NewNormalizer(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create normalizer: %v", err)
	}

	_, err = normalizer.Normalize(nil, "selfie.jpg", "req-1")
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestNormalizeReportsBadHEIFPayload(t *testing.T) {
	normalizer, err := NewNormalizer(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create normalizer: %v", err)
	}

	_, err = normalizer.Normalize([]byte("not a heif container"), "photo.heic", "req-1")
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}
