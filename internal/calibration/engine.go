// Package calibration derives a pixels-per-division coefficient from a
// photograph of a ruled reference pattern (a stage micrometer).
//
// The reference image shows parallel dark strips on a lighter background. The
// engine finds the strips, takes the left edge of each, and averages the gaps
// between consecutive edges. Left edges are used rather than centres so the
// strips' own width does not enter the spacing.
package calibration

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/ironsheep/particle-tools-mcp/internal/config"
	"github.com/ironsheep/particle-tools-mcp/internal/imaging"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Artifact stage names.
const (
	StageContrasted = "calibration_contrasted"
	StageMask       = "calibration_mask"
	StageCalibrated = "calibrated"
)

// Strip is one detected reference strip, as its bounding box.
type Strip struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is the outcome of calibrating one reference image.
//
// A Coefficient of 0 means fewer than two strips were found and the image
// could not be used; it is not an error.
type Result struct {
	// Coefficient is the mean strip spacing in pixels per division,
	// rounded to 3 decimals.
	Coefficient float64 `json:"coefficient"`

	// StripCount is the number of strips that passed the shape filters.
	StripCount int `json:"strip_count"`

	// Positions are the strips' left edges, ascending.
	Positions []int `json:"positions"`

	// Strips are the accepted strips in Positions order.
	Strips []Strip `json:"strips"`
}

// Calibrated reports whether the result carries a usable coefficient.
func (r *Result) Calibrated() bool {
	return r.Coefficient > 0
}

// Profile combines the coefficient with a division price.
func (r *Result) Profile(divisionPrice float64) particle.CalibrationProfile {
	return particle.NewProfile(r.Coefficient, divisionPrice)
}

// Engine detects reference strips.
type Engine struct {
	Normalizer *imaging.Normalizer

	// BlockSize is the adaptive threshold neighbourhood; Offset is subtracted
	// from the Gaussian-weighted local mean.
	BlockSize int
	Offset    float64

	// CloseHeight is the height of the 1-pixel-wide closing kernel that
	// bridges breaks along a strip.
	CloseHeight int

	MinStripHeight   int
	MaxWidthFraction float64
	MinAspect        float64

	// Sink receives the contrasted, mask and annotated images when set.
	Sink imaging.ArtifactSink
}

// NewEngine builds an engine from configuration.
func NewEngine(cfg config.Calibration, normalizer *imaging.Normalizer) *Engine {
	return &Engine{
		Normalizer:       normalizer,
		BlockSize:        cfg.BlockSize,
		Offset:           cfg.Offset,
		CloseHeight:      cfg.CloseHeight,
		MinStripHeight:   cfg.MinStripHeight,
		MaxWidthFraction: cfg.MaxWidthFrac,
		MinAspect:        cfg.MinAspect,
	}
}

// DefaultEngine returns an engine with the default constants.
func DefaultEngine() *Engine {
	return NewEngine(config.DefaultConfig().Calibration, imaging.DefaultNormalizer())
}

// Calibrate measures strip spacing in src.
func (e *Engine) Calibrate(src gocv.Mat) (*Result, error) {
	res, normalized, mask, err := e.run(src)
	if err != nil {
		return nil, err
	}
	normalized.Close()
	mask.Close()
	return res, nil
}

// CalibrateImage calibrates a Go image and, when a Sink is set, stores the
// intermediate images under name.
func (e *Engine) CalibrateImage(name string, img image.Image) (*Result, error) {
	src, err := imaging.ToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	res, normalized, mask, err := e.run(src)
	if err != nil {
		return nil, err
	}
	defer normalized.Close()
	defer mask.Close()

	logger := log.WithFields(log.Fields{"image": name, "strips": res.StripCount, "coefficient": res.Coefficient})
	if !res.Calibrated() {
		logger.Warn("[Calibration] not enough strips detected")
	} else {
		logger.Info("[Calibration] coefficient computed")
	}

	if e.Sink != nil {
		if err := e.saveArtifacts(name, normalized, mask, res); err != nil {
			logger.WithError(err).Warn("[Calibration] failed to store artifacts")
		}
	}
	return res, nil
}

// run executes detection. The caller owns the returned Mats.
func (e *Engine) run(src gocv.Mat) (*Result, gocv.Mat, gocv.Mat, error) {
	normalized, err := e.Normalizer.Normalize(src)
	if err != nil {
		return nil, gocv.NewMat(), gocv.NewMat(), err
	}

	mask := e.mask(normalized)
	return newResult(e.detectStrips(mask)), normalized, mask, nil
}

// mask binarizes with a local threshold and closes vertical gaps.
func (e *Engine) mask(normalized gocv.Mat) gocv.Mat {
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.AdaptiveThreshold(normalized, &binary, 255, gocv.AdaptiveThresholdGaussian,
		gocv.ThresholdBinaryInv, e.BlockSize, float32(e.Offset))

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(1, e.CloseHeight))
	defer kernel.Close()

	closed := gocv.NewMat()
	gocv.MorphologyEx(binary, &closed, gocv.MorphClose, kernel)
	return closed
}

// detectStrips returns the bounding boxes of strip-shaped regions.
func (e *Engine) detectStrips(mask gocv.Mat) []Strip {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	maxWidth := e.MaxWidthFraction * float64(mask.Cols())
	var strips []Strip
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		w, h := r.Dx(), r.Dy()
		if w <= 0 || float64(w) > maxWidth || h < e.MinStripHeight {
			continue
		}
		if float64(h)/float64(w) < e.MinAspect {
			continue
		}
		strips = append(strips, Strip{X: r.Min.X, Y: r.Min.Y, Width: w, Height: h})
	}
	return strips
}

func newResult(strips []Strip) *Result {
	sort.SliceStable(strips, func(i, j int) bool { return strips[i].X < strips[j].X })

	xs := make([]int, len(strips))
	for i, s := range strips {
		xs[i] = s.X
	}

	return &Result{
		Coefficient: Coefficient(xs),
		StripCount:  len(strips),
		Positions:   xs,
		Strips:      strips,
	}
}

// Coefficient returns the mean gap between consecutive positions, rounded to
// 3 decimals. Positions must be sorted. Fewer than two positions yield 0.
func Coefficient(xs []int) float64 {
	if len(xs) < 2 {
		return 0
	}
	gaps := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		gaps[i-1] = float64(xs[i] - xs[i-1])
	}
	return math.Round(stat.Mean(gaps, nil)*1000) / 1000
}

var (
	stripGreen  = color.RGBA{G: 200, A: 255}
	markerRed   = color.RGBA{R: 255, A: 255}
	spacingBlue = color.RGBA{B: 255, A: 255}
)

// Render draws the accepted strips, markers at the first and last strip, and
// the gap at the median index on a copy of base. The caller owns the result.
func Render(base gocv.Mat, res *Result) (gocv.Mat, error) {
	out, err := imaging.Canvas(base)
	if err != nil {
		return out, err
	}

	for _, s := range res.Strips {
		gocv.Rectangle(&out, image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height), stripGreen, 1)
	}

	n := len(res.Positions)
	if n == 0 {
		return out, nil
	}

	y := out.Rows() / 2
	first, last := res.Positions[0], res.Positions[n-1]
	gocv.Circle(&out, image.Pt(first, y), 5, markerRed, -1)
	gocv.Circle(&out, image.Pt(last, y), 5, markerRed, -1)

	if n >= 2 {
		mid := n / 2
		a, b := res.Positions[mid-1], res.Positions[mid]
		gocv.Line(&out, image.Pt(a, y), image.Pt(b, y), spacingBlue, 2)
		gocv.PutText(&out, fmt.Sprintf("%.3f px", res.Coefficient), image.Pt(a, y-10),
			gocv.FontHersheySimplex, 0.5, spacingBlue, 1)
	}
	return out, nil
}

func (e *Engine) saveArtifacts(name string, normalized, mask gocv.Mat, res *Result) error {
	contrasted, err := imaging.FromMat(normalized)
	if err != nil {
		return err
	}
	if err := e.Sink.Save(StageContrasted, name, contrasted); err != nil {
		return err
	}

	maskImg, err := imaging.FromMat(mask)
	if err != nil {
		return err
	}
	if err := e.Sink.Save(StageMask, name, maskImg); err != nil {
		return err
	}

	rendered, err := Render(normalized, res)
	if err != nil {
		return err
	}
	defer rendered.Close()
	annotated, err := imaging.FromMat(rendered)
	if err != nil {
		return err
	}
	return e.Sink.Save(StageCalibrated, name, annotated)
}
