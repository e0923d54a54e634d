package detection

import (
	"fmt"
	"image"

	"github.com/ironsheep/particle-tools-mcp/internal/imaging"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
	"gocv.io/x/gocv"
)

// Bounds represents a rectangular bounding box in pixel coordinates.
//
//   - (X1, Y1) is the top-left corner (inclusive)
//   - (X2, Y2) is the bottom-right corner (exclusive)
type Bounds struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// BoundsOf returns the bounding box of a contour.
func BoundsOf(c particle.Contour) Bounds {
	r := c.Bounds()
	return Bounds{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Extractor finds particle outlines in a normalized grayscale image.
//
// Pixels at or below Threshold are foreground (particles are dark on a bright
// background). Outer boundaries of foreground regions are traced with
// vertex-reduced straight runs; holes inside a particle are ignored.
//
// A boundary is kept when its enclosed area is at least MinArea and, if
// ExcludeBoundary is set, none of its vertices lies on the outermost row or
// column of the image. Particles cut by the frame edge are partial and would
// bias the size statistics.
type Extractor struct {
	Threshold       float64
	MinArea         float64
	ExcludeBoundary bool
}

// DefaultExtractor returns the extractor for normalized particle photographs:
// threshold 127, minimum area 100 px², frame-touching particles excluded.
func DefaultExtractor() *Extractor {
	return &Extractor{Threshold: 127, MinArea: 100, ExcludeBoundary: true}
}

// ExtractStats counts what happened to the traced boundaries.
type ExtractStats struct {
	// Found is the number of outer boundaries traced.
	Found int `json:"found"`

	// TooSmall were rejected for enclosing less than MinArea.
	TooSmall int `json:"too_small"`

	// OnBoundary were rejected for touching the image frame.
	OnBoundary int `json:"on_boundary"`

	// Kept is the number of contours returned.
	Kept int `json:"kept"`
}

// Extract returns the accepted contours in the order the tracer produced them.
// That order is not spatially meaningful.
//
// gray must be a single-channel image; anything else is ErrInvalidImage.
func (e *Extractor) Extract(gray gocv.Mat) ([]particle.Contour, error) {
	contours, _, err := e.ExtractWithStats(gray)
	return contours, err
}

// ExtractWithStats is Extract plus rejection counts.
func (e *Extractor) ExtractWithStats(gray gocv.Mat) ([]particle.Contour, ExtractStats, error) {
	var stats ExtractStats

	if gray.Empty() || gray.Rows() == 0 || gray.Cols() == 0 {
		return nil, stats, fmt.Errorf("%w: empty image", imaging.ErrInvalidImage)
	}
	if gray.Channels() != 1 {
		return nil, stats, fmt.Errorf("%w: expected 1 channel, got %d", imaging.ErrInvalidImage, gray.Channels())
	}
	if e.MinArea < 0 {
		return nil, stats, fmt.Errorf("minimum area must be non-negative, got %v", e.MinArea)
	}

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, float32(e.Threshold), 255, gocv.ThresholdBinaryInv)

	traced := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer traced.Close()

	width, height := gray.Cols(), gray.Rows()
	var out []particle.Contour

	stats.Found = traced.Size()
	for i := 0; i < traced.Size(); i++ {
		pv := traced.At(i)
		if gocv.ContourArea(pv) < e.MinArea {
			stats.TooSmall++
			continue
		}

		pts := pv.ToPoints()
		if e.ExcludeBoundary && TouchesBorder(pts, width, height) {
			stats.OnBoundary++
			continue
		}
		out = append(out, particle.Contour(pts))
	}

	stats.Kept = len(out)
	return out, stats, nil
}

// TouchesBorder reports whether any point lies on the outermost row or column
// of a width x height image.
func TouchesBorder(pts []image.Point, width, height int) bool {
	for _, p := range pts {
		if p.X <= 0 || p.Y <= 0 || p.X >= width-1 || p.Y >= height-1 {
			return true
		}
	}
	return false
}

// Outlines converts contours for drawing.
func Outlines(contours []particle.Contour) [][]image.Point {
	out := make([][]image.Point, len(contours))
	for i, c := range contours {
		out[i] = c
	}
	return out
}
