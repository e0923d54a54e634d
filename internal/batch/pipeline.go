// Package batch runs the particle pipeline over a set of images and folds the
// per-particle measurements into one numbered sequence with averages.
package batch

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/ironsheep/particle-tools-mcp/internal/config"
	"github.com/ironsheep/particle-tools-mcp/internal/detection"
	"github.com/ironsheep/particle-tools-mcp/internal/imaging"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
	"gocv.io/x/gocv"
)

// ErrUnknownStage is returned by ParseStage.
var ErrUnknownStage = errors.New("unknown pipeline stage")

// Stage is one visual step of the pipeline.
type Stage int

const (
	// StageContrast is the normalized grayscale image.
	StageContrast Stage = iota
	// StageContours is the normalized image with accepted outlines.
	StageContours
	// StageAnalyze is the normalized image with colored outlines and
	// sequence numbers.
	StageAnalyze
)

// Stages lists every stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageContrast, StageContours, StageAnalyze}
}

// String returns the stage's artifact directory name.
func (s Stage) String() string {
	switch s {
	case StageContrast:
		return "contrasted"
	case StageContours:
		return "contours"
	case StageAnalyze:
		return "analyzed"
	default:
		return "Stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseStage accepts a stage's action name ("contrast", "contours", "analyze")
// or its artifact name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "contrast", "contrasted":
		return StageContrast, nil
	case "contours", "contour":
		return StageContours, nil
	case "analyze", "analyzed":
		return StageAnalyze, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
}

// Frame holds one image's pass through the pipeline. Close releases it.
type Frame struct {
	// Normalized is the contrast-normalized grayscale image.
	Normalized gocv.Mat

	// Contours are the extracted outlines in extraction order.
	Contours []particle.Contour

	// Stats reports how many traced outlines the extractor rejected.
	Stats detection.ExtractStats

	// Measured are the contours that produced a measurement, parallel to
	// Measurements. Degenerate contours are missing from both.
	Measured     []particle.Contour
	Measurements []particle.Measurement
}

// Degenerate returns the number of extracted contours the measurer rejected.
func (f *Frame) Degenerate() int {
	return len(f.Contours) - len(f.Measured)
}

// Close releases the normalized image.
func (f *Frame) Close() error {
	return f.Normalized.Close()
}

// Pipeline chains normalization, extraction and measurement for one image.
// It holds configuration only and is safe for concurrent use.
type Pipeline struct {
	Normalizer *imaging.Normalizer
	Extractor  *detection.Extractor
}

// NewPipeline builds a pipeline from configuration.
func NewPipeline(cfg config.Pipeline) *Pipeline {
	return &Pipeline{
		Normalizer: &imaging.Normalizer{
			ClipLimit:  cfg.ClipLimit,
			TileGrid:   cfg.TileGrid,
			BlurKernel: cfg.BlurKernel,
		},
		Extractor: &detection.Extractor{
			Threshold:       cfg.Threshold,
			MinArea:         cfg.MinArea,
			ExcludeBoundary: cfg.ExcludeBoundary,
		},
	}
}

// DefaultPipeline returns a pipeline with the default constants.
func DefaultPipeline() *Pipeline {
	return NewPipeline(config.DefaultConfig().Pipeline)
}

// Process runs every stage on img. Measurements are in pixels and unnumbered.
// The caller must Close the returned Frame.
func (p *Pipeline) Process(img image.Image) (*Frame, error) {
	src, err := imaging.ToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	normalized, err := p.Normalizer.Normalize(src)
	if err != nil {
		return nil, err
	}

	contours, stats, err := p.Extractor.ExtractWithStats(normalized)
	if err != nil {
		normalized.Close()
		return nil, err
	}

	f := &Frame{Normalized: normalized, Contours: contours, Stats: stats}
	for _, c := range contours {
		m, ok := particle.Measure(c)
		if !ok {
			continue
		}
		f.Measured = append(f.Measured, c)
		f.Measurements = append(f.Measurements, m)
	}
	return f, nil
}

// Render returns the visual artifact of stage for a processed frame. The
// analyze stage labels each particle with its Number at its centroid.
func (p *Pipeline) Render(stage Stage, f *Frame) (image.Image, error) {
	var (
		out gocv.Mat
		err error
	)

	switch stage {
	case StageContrast:
		return imaging.FromMat(f.Normalized)
	case StageContours:
		out, err = imaging.DrawOutlines(f.Normalized, detection.Outlines(f.Contours))
	case StageAnalyze:
		labels := make([]imaging.Label, len(f.Measurements))
		for i, m := range f.Measurements {
			labels[i] = imaging.Label{Text: strconv.Itoa(m.Number), At: image.Pt(m.CX, m.CY)}
		}
		out, err = imaging.Annotate(f.Normalized, detection.Outlines(f.Measured), labels)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownStage, stage)
	}

	if err != nil {
		return nil, err
	}
	defer out.Close()
	return imaging.FromMat(out)
}
