package batch

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/ironsheep/particle-tools-mcp/internal/imaging"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
	log "github.com/sirupsen/logrus"
)

// ErrNoReadableImages is returned when none of a batch's images could be
// processed.
var ErrNoReadableImages = errors.New("no readable images")

// Source is one named input image. Image may fail, in which case the image is
// skipped and the batch continues.
type Source interface {
	Name() string
	Image() (image.Image, error)
}

type memorySource struct {
	name string
	img  image.Image
}

func (s memorySource) Name() string                { return s.name }
func (s memorySource) Image() (image.Image, error) { return s.img, nil }

// NewImageSource wraps an already decoded image.
func NewImageSource(name string, img image.Image) Source {
	return memorySource{name: name, img: img}
}

// ImageSummary reports what one input contributed.
type ImageSummary struct {
	Name      string `json:"name"`
	Particles int    `json:"particles"`

	// FirstNumber is the sequence number of the image's first particle, 0 when
	// it has none.
	FirstNumber int `json:"first_number,omitempty"`

	TooSmall   int `json:"too_small"`
	OnBoundary int `json:"on_boundary"`
	Degenerate int `json:"degenerate"`

	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Result is the outcome of one batch run.
type Result struct {
	RunID string `json:"run_id"`

	// Measurements are numbered from 1 across the whole batch, in image input
	// order and then extraction order, and converted with Profile.
	Measurements []particle.Measurement `json:"measurements"`
	Averages     Averages               `json:"averages"`

	Images  []ImageSummary              `json:"images"`
	Profile particle.CalibrationProfile `json:"calibration"`
}

// Analyzer runs the pipeline over batches of images.
type Analyzer struct {
	pipeline *Pipeline
	workers  int
	sink     imaging.ArtifactSink
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkers processes up to n images concurrently. Numbering is unaffected.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithArtifacts stores every stage's image for every processed input.
func WithArtifacts(sink imaging.ArtifactSink) Option {
	return func(a *Analyzer) {
		a.sink = sink
	}
}

// NewAnalyzer creates an Analyzer around pipeline.
func NewAnalyzer(pipeline *Pipeline, opts ...Option) *Analyzer {
	a := &Analyzer{pipeline: pipeline, workers: 1}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Pipeline returns the pipeline the analyzer runs.
func (a *Analyzer) Pipeline() *Pipeline {
	return a.pipeline
}

type outcome struct {
	frame *Frame
	err   error
}

// Analyze processes sources in order. Images that cannot be read or processed
// are skipped and reported in Images; if every image is skipped (or there are
// none) the error is ErrNoReadableImages.
func (a *Analyzer) Analyze(ctx context.Context, sources []Source, profile particle.CalibrationProfile) (*Result, error) {
	runID := uuid.NewString()
	logger := log.WithField("run", runID)
	logger.WithField("images", len(sources)).Debug("[Batch] starting")

	outcomes, err := a.processAll(ctx, sources)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:        runID,
		Measurements: []particle.Measurement{},
		Images:       make([]ImageSummary, 0, len(sources)),
		Profile:      profile,
	}

	next := 1
	readable := 0
	for i, src := range sources {
		name := src.Name()
		summary := ImageSummary{Name: name}

		o := outcomes[i]
		if o.err != nil {
			summary.Skipped = true
			summary.Reason = o.err.Error()
			res.Images = append(res.Images, summary)
			logger.WithFields(log.Fields{"image": name}).WithError(o.err).Warn("[Batch] skipping image")
			continue
		}
		readable++

		f := o.frame
		for j := range f.Measurements {
			f.Measurements[j].Number = next
			next++

			m := f.Measurements[j]
			m.Image = name
			res.Measurements = append(res.Measurements, profile.Apply(m))
		}

		summary.Particles = len(f.Measurements)
		if summary.Particles > 0 {
			summary.FirstNumber = f.Measurements[0].Number
		}
		summary.TooSmall = f.Stats.TooSmall
		summary.OnBoundary = f.Stats.OnBoundary
		summary.Degenerate = f.Degenerate()
		res.Images = append(res.Images, summary)

		logger.WithFields(log.Fields{"image": name, "particles": summary.Particles}).Debug("[Batch] image measured")

		if a.sink != nil {
			a.saveArtifacts(logger, name, f)
		}
		f.Close()
	}

	if readable == 0 {
		return nil, ErrNoReadableImages
	}

	res.Averages = ComputeAverages(res.Measurements)
	logger.WithField("particles", len(res.Measurements)).Info("[Batch] finished")
	return res, nil
}

// processAll runs the pipeline on every source with a fixed pool of workers.
// outcomes[i] belongs to sources[i].
func (a *Analyzer) processAll(ctx context.Context, sources []Source) ([]outcome, error) {
	outcomes := make([]outcome, len(sources))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < a.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = a.process(sources[i])
			}
		}()
	}

	var cancelled error
feed:
	for i := range sources {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		for _, o := range outcomes {
			if o.frame != nil {
				o.frame.Close()
			}
		}
		return nil, cancelled
	}
	return outcomes, nil
}

func (a *Analyzer) process(src Source) outcome {
	img, err := src.Image()
	if err != nil {
		return outcome{err: err}
	}
	f, err := a.pipeline.Process(img)
	return outcome{frame: f, err: err}
}

func (a *Analyzer) saveArtifacts(logger *log.Entry, name string, f *Frame) {
	for _, stage := range Stages() {
		img, err := a.pipeline.Render(stage, f)
		if err == nil {
			err = a.sink.Save(stage.String(), name, img)
		}
		if err != nil {
			logger.WithFields(log.Fields{"image": name, "stage": stage.String()}).WithError(err).Warn("[Batch] failed to store artifact")
		}
	}
}
