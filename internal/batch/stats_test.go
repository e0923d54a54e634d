package batch

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/ironsheep/particle-tools-mcp/internal/particle"
)

func withArea(areas ...float64) []particle.Measurement {
	ms := make([]particle.Measurement, len(areas))
	for i, a := range areas {
		ms[i] = particle.Measurement{Number: i + 1, Area: a}
	}
	return ms
}

func TestDistribution_OneBarPerValue(t *testing.T) {
	bars := Distribution(withArea(3, 1, 2), MetricArea, 100)
	if len(bars) != 3 {
		t.Fatalf("bars: got %d, want 3", len(bars))
	}
	want := []string{"1.00", "2.00", "3.00"}
	for i, b := range bars {
		if b.Label != want[i] || b.Count != 1 {
			t.Errorf("bar %d: got %+v, want label %s", i, b, want[i])
		}
	}
}

func TestDistribution_Grouped(t *testing.T) {
	areas := make([]float64, 10)
	for i := range areas {
		areas[9-i] = float64(i + 1)
	}

	bars := Distribution(withArea(areas...), MetricArea, 3)
	if len(bars) != 3 {
		t.Fatalf("bars: got %d, want 3", len(bars))
	}

	tests := []struct {
		label string
		value float64
		count int
	}{
		{"1.00–3.00", 2, 3},
		{"4.00–6.00", 5, 3},
		{"7.00–10.00", 8.5, 4},
	}
	for i, tt := range tests {
		b := bars[i]
		if b.Label != tt.label || math.Abs(b.Value-tt.value) > 1e-12 || b.Count != tt.count {
			t.Errorf("bar %d: got %+v, want %+v", i, b, tt)
		}
	}
}

func TestDistribution_SingletonGroups(t *testing.T) {
	bars := Distribution(withArea(1, 2, 3, 4, 5), MetricArea, 4)
	if len(bars) != 4 {
		t.Fatalf("bars: got %d, want 4", len(bars))
	}
	if bars[0].Label != "1.00" {
		t.Errorf("singleton label: got %q", bars[0].Label)
	}
	if bars[3].Label != "4.00–5.00" || bars[3].Count != 2 {
		t.Errorf("last bar: got %+v", bars[3])
	}
}

func TestDistribution_Empty(t *testing.T) {
	if bars := Distribution(nil, MetricWidth, 0); len(bars) != 0 {
		t.Errorf("empty input: got %v", bars)
	}
}

func TestComputeAverages(t *testing.T) {
	ms := []particle.Measurement{
		{Perimeter: 10, Area: 100, Length: 4, Width: 2, Diameter: 11.28},
		{Perimeter: 20, Area: 300, Length: 8, Width: 4, Diameter: 19.54},
	}

	got := ComputeAverages(ms)
	want := Averages{Perimeter: 15, Area: 200, Length: 6, Width: 3, Diameter: 15.41}
	for _, metric := range Metrics() {
		if math.Abs(got.Get(metric)-want.Get(metric)) > 1e-9 {
			t.Errorf("%s: got %v, want %v", metric, got.Get(metric), want.Get(metric))
		}
	}

	if empty := ComputeAverages(nil); empty != (Averages{}) {
		t.Errorf("empty: got %+v, want zeros", empty)
	}
}

func TestComputeAverages_Single(t *testing.T) {
	m := particle.Measurement{Number: 1, Perimeter: 84.85, Area: 400, Length: 28.28, Width: 14.14, Diameter: 22.57}

	got := ComputeAverages([]particle.Measurement{m})
	for _, metric := range Metrics() {
		if got.Get(metric) != metric.Value(m) {
			t.Errorf("%s: got %v, want exactly %v", metric, got.Get(metric), metric.Value(m))
		}
	}
}

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in      string
		want    Metric
		wantErr bool
	}{
		{"area", MetricArea, false},
		{" Perimeter ", MetricPerimeter, false},
		{"dek", MetricDiameter, false},
		{"diameter", MetricDiameter, false},
		{"volume", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMetric(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMetric(%q): got %q, %v", tt.in, got, err)
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownMetric) {
			t.Errorf("ParseMetric(%q): got %v, want ErrUnknownMetric", tt.in, err)
		}
	}
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in   string
		want Stage
	}{
		{"contrast", StageContrast},
		{"contrasted", StageContrast},
		{"CONTOURS", StageContours},
		{"analyze", StageAnalyze},
		{"analyzed", StageAnalyze},
	}
	for _, tt := range tests {
		got, err := ParseStage(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseStage(%q): got %v, %v", tt.in, got, err)
		}
	}

	if _, err := ParseStage("sharpen"); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("ParseStage(sharpen): got %v, want ErrUnknownStage", err)
	}
}

func TestStage_String(t *testing.T) {
	for _, s := range Stages() {
		back, err := ParseStage(s.String())
		if err != nil || back != s {
			t.Errorf("stage %d: String %q does not parse back", int(s), s.String())
		}
	}
	if Stage(7).String() != "Stage(7)" {
		t.Errorf("unknown stage: got %q", Stage(7).String())
	}
}

func TestPipeline_Render(t *testing.T) {
	p := DefaultPipeline()
	f, err := p.Process(particleImage(100, 80, 20, image.Pt(20, 20), image.Pt(60, 40)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	defer f.Close()

	if len(f.Contours) != 2 || len(f.Measurements) != 2 || f.Degenerate() != 0 {
		t.Fatalf("frame: %d contours, %d measurements", len(f.Contours), len(f.Measurements))
	}

	for _, stage := range Stages() {
		img, err := p.Render(stage, f)
		if err != nil {
			t.Errorf("Render(%s) failed: %v", stage, err)
			continue
		}
		if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 80 {
			t.Errorf("Render(%s) size: %v", stage, img.Bounds())
		}
	}

	if _, err := p.Render(Stage(9), f); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("Render(unknown): got %v, want ErrUnknownStage", err)
	}
}
