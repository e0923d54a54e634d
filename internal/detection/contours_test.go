package detection

import (
	"errors"
	"image"
	"image/color"
	"sort"
	"testing"

	"github.com/ironsheep/particle-tools-mcp/internal/imaging"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
	"gocv.io/x/gocv"
)

// grayMat returns a bright single-channel Mat with dark filled rectangles.
func grayMat(t *testing.T, width, height int, rects ...image.Rectangle) gocv.Mat {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 235
	}
	for _, r := range rects {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 15})
			}
		}
	}

	mat, err := imaging.ToMat(img)
	if err != nil {
		t.Fatalf("ToMat failed: %v", err)
	}
	return mat
}

func sortedAreas(contours []particle.Contour) []float64 {
	areas := make([]float64, len(contours))
	for i, c := range contours {
		pv := c.PointVector()
		areas[i] = gocv.ContourArea(pv)
		pv.Close()
	}
	sort.Float64s(areas)
	return areas
}

func TestExtract(t *testing.T) {
	mat := grayMat(t, 200, 150,
		image.Rect(20, 20, 40, 40),   // 20x20 pixels, contour area 361
		image.Rect(100, 50, 131, 71), // 31x21 pixels, contour area 600
		image.Rect(60, 100, 65, 105), // speck, below minimum area
	)
	defer mat.Close()

	contours, stats, err := DefaultExtractor().ExtractWithStats(mat)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	areas := sortedAreas(contours)
	if len(areas) != 2 || areas[0] != 361 || areas[1] != 600 {
		t.Errorf("areas: got %v, want [361 600]", areas)
	}
	if stats.Found != 3 || stats.TooSmall != 1 || stats.OnBoundary != 0 || stats.Kept != 2 {
		t.Errorf("stats: got %+v", stats)
	}

	for _, c := range contours {
		if len(c) != 4 {
			t.Errorf("rectangle should reduce to 4 vertices, got %d", len(c))
		}
	}
}

func TestExtract_MinAreaInclusive(t *testing.T) {
	// An 11x11 pixel block traces to a 10x10 boundary.
	mat := grayMat(t, 60, 60, image.Rect(20, 20, 31, 31))
	defer mat.Close()

	tests := []struct {
		minArea float64
		want    int
	}{
		{99, 1},
		{100, 1},
		{101, 0},
		{0, 1},
	}

	for _, tt := range tests {
		e := &Extractor{Threshold: 127, MinArea: tt.minArea, ExcludeBoundary: true}
		contours, err := e.Extract(mat)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(contours) != tt.want {
			t.Errorf("MinArea %v: got %d contours, want %d", tt.minArea, len(contours), tt.want)
		}
	}
}

func TestExtract_BoundaryExclusion(t *testing.T) {
	interior := image.Rect(40, 40, 60, 60)
	tests := []struct {
		name  string
		touch image.Rectangle
	}{
		{"left edge", image.Rect(0, 40, 20, 60)},
		{"top edge", image.Rect(40, 0, 60, 20)},
		{"right edge", image.Rect(80, 40, 100, 60)},
		{"bottom edge", image.Rect(40, 80, 60, 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat := grayMat(t, 100, 100, tt.touch, interior)
			defer mat.Close()

			excluding, stats, err := DefaultExtractor().ExtractWithStats(mat)
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if len(excluding) != 1 || stats.OnBoundary != 1 {
				t.Fatalf("excluding boundary: got %d contours, stats %+v", len(excluding), stats)
			}
			if b := BoundsOf(excluding[0]); b != (Bounds{X1: 40, Y1: 40, X2: 60, Y2: 60}) {
				t.Errorf("kept contour bounds: got %+v", b)
			}

			keeping := &Extractor{Threshold: 127, MinArea: 100, ExcludeBoundary: false}
			all, err := keeping.Extract(mat)
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if len(all) != 2 {
				t.Errorf("keeping boundary: got %d contours, want 2", len(all))
			}
		})
	}
}

func TestExtract_Blank(t *testing.T) {
	mat := grayMat(t, 50, 50)
	defer mat.Close()

	contours, err := DefaultExtractor().Extract(mat)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(contours) != 0 {
		t.Errorf("blank image: got %d contours", len(contours))
	}
}

func TestExtract_InvalidInput(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := DefaultExtractor().Extract(empty); !errors.Is(err, imaging.ErrInvalidImage) {
		t.Errorf("empty Mat: got %v, want ErrInvalidImage", err)
	}

	colored, err := imaging.ToMat(image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if err != nil {
		t.Fatalf("ToMat failed: %v", err)
	}
	defer colored.Close()
	if _, err := DefaultExtractor().Extract(colored); !errors.Is(err, imaging.ErrInvalidImage) {
		t.Errorf("3-channel Mat: got %v, want ErrInvalidImage", err)
	}

	mat := grayMat(t, 10, 10)
	defer mat.Close()
	if _, err := (&Extractor{Threshold: 127, MinArea: -1}).Extract(mat); err == nil {
		t.Error("negative MinArea should fail")
	}
}

func TestTouchesBorder(t *testing.T) {
	tests := []struct {
		name string
		pts  []image.Point
		want bool
	}{
		{"interior", []image.Point{{1, 1}, {8, 8}}, false},
		{"left", []image.Point{{0, 5}}, true},
		{"top", []image.Point{{5, 0}}, true},
		{"right", []image.Point{{9, 5}}, true},
		{"bottom", []image.Point{{5, 9}}, true},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TouchesBorder(tt.pts, 10, 10); got != tt.want {
				t.Errorf("TouchesBorder: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutlines(t *testing.T) {
	c := particle.Contour{{1, 1}, {1, 5}, {5, 5}}
	out := Outlines([]particle.Contour{c})
	if len(out) != 1 || len(out[0]) != 3 || out[0][2] != image.Pt(5, 5) {
		t.Errorf("Outlines: got %v", out)
	}
}
