package vision

import (
	"math"
	"testing"
)

func TestPointPixelFloors(t *testing.T) {
	p := Point{X: 0.5, Y: 0.5}
	x, y := p.Pixel(101, 57)
	if x != 50 || y != 28 {
		t.Fatalf("got (%d, %d), want (50, 28)", x, y)
	}
}

func TestPointPixelRoundTrip(t *testing.T) {
	width, height := 1280, 720
	points := []Point{
		{X: 0, Y: 0},
		{X: 0.123, Y: 0.987},
		{X: 0.5, Y: 0.5},
		{X: 0.999, Y: 0.001},
	}
	for _, p := range points {
		x, y := p.Pixel(width, height)
		wantX := int(math.Floor(p.X * float64(width)))
		wantY := int(math.Floor(p.Y * float64(height)))
		if x != wantX || y != wantY {
			t.Fatalf("point %+v: got (%d, %d), want (%d, %d)", p, x, y, wantX, wantY)
		}
		if x < 0 || x >= width || y < 0 || y >= height {
			t.Fatalf("point %+v projects outside the frame: (%d, %d)", p, x, y)
		}
	}
}

func TestVocabularyIsClosedAndStable(t *testing.T) {
	vocab := Vocabulary()
	want := []string{LabelAcne, LabelPigmentation, LabelWrinkles, LabelDarkCircles}
	if len(vocab) != len(want) {
		t.Fatalf("got %v, want %v", vocab, want)
	}
	for i := range want {
		if vocab[i] != want[i] {
			t.Fatalf("got %v, want %v", vocab, want)
		}
	}

	seen := map[string]bool{}
	for _, label := range vocab {
		if seen[label] {
			t.Fatalf("duplicate label %s", label)
		}
		seen[label] = true
	}
}

func TestClassifierLabelsAreSubsetOfVocabulary(t *testing.T) {
	vocab := map[string]bool{}
	for _, label := range Vocabulary() {
		vocab[label] = true
	}
	for _, label := range ClassifierLabels {
		if !vocab[label] {
			t.Fatalf("classifier label %s missing from vocabulary", label)
		}
	}
}
