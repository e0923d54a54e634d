package batch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ironsheep/particle-tools-mcp/internal/particle"
	"gonum.org/v1/gonum/stat"
)

// ErrUnknownMetric is returned by ParseMetric for unrecognised names.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric names one measured quantity.
type Metric string

const (
	MetricPerimeter Metric = "perimeter"
	MetricArea      Metric = "area"
	MetricLength    Metric = "length"
	MetricWidth     Metric = "width"
	MetricDiameter  Metric = "dek"
)

// Metrics lists every metric in report order.
func Metrics() []Metric {
	return []Metric{MetricPerimeter, MetricArea, MetricLength, MetricWidth, MetricDiameter}
}

// ParseMetric accepts a metric name; "diameter" is an alias for "dek".
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricPerimeter, MetricArea, MetricLength, MetricWidth, MetricDiameter:
		return m, nil
	case "diameter":
		return MetricDiameter, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Value extracts the metric from a measurement.
func (m Metric) Value(p particle.Measurement) float64 {
	switch m {
	case MetricPerimeter:
		return p.Perimeter
	case MetricArea:
		return p.Area
	case MetricLength:
		return p.Length
	case MetricWidth:
		return p.Width
	case MetricDiameter:
		return p.Diameter
	default:
		return 0
	}
}

// Averages are per-metric arithmetic means over a measurement sequence.
type Averages struct {
	Perimeter float64 `json:"perimeter"`
	Area      float64 `json:"area"`
	Length    float64 `json:"length"`
	Width     float64 `json:"width"`
	Diameter  float64 `json:"dek"`
}

// Get returns the average for metric.
func (a Averages) Get(metric Metric) float64 {
	switch metric {
	case MetricPerimeter:
		return a.Perimeter
	case MetricArea:
		return a.Area
	case MetricLength:
		return a.Length
	case MetricWidth:
		return a.Width
	case MetricDiameter:
		return a.Diameter
	default:
		return 0
	}
}

// ComputeAverages averages every metric. An empty sequence averages to zero.
func ComputeAverages(ms []particle.Measurement) Averages {
	if len(ms) == 0 {
		return Averages{}
	}
	mean := func(metric Metric) float64 {
		return stat.Mean(values(ms, metric), nil)
	}
	return Averages{
		Perimeter: mean(MetricPerimeter),
		Area:      mean(MetricArea),
		Length:    mean(MetricLength),
		Width:     mean(MetricWidth),
		Diameter:  mean(MetricDiameter),
	}
}

func values(ms []particle.Measurement, metric Metric) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = metric.Value(m)
	}
	return out
}

// DefaultMaxBars is the bar limit of a distribution chart.
const DefaultMaxBars = 100

// Bar is one column of a value distribution.
type Bar struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// Distribution sorts the metric's values and returns at most maxBars bars.
// With no more values than bars every value is its own bar. Otherwise values
// are grouped in runs of len/maxBars, the last bar taking the remainder, and
// each bar shows the group mean labelled with the group's range.
func Distribution(ms []particle.Measurement, metric Metric, maxBars int) []Bar {
	if maxBars <= 0 {
		maxBars = DefaultMaxBars
	}

	vals := values(ms, metric)
	sort.Float64s(vals)
	n := len(vals)

	if n <= maxBars {
		bars := make([]Bar, n)
		for i, v := range vals {
			bars[i] = Bar{Label: fmt.Sprintf("%.2f", v), Value: v, Count: 1}
		}
		return bars
	}

	size := n / maxBars
	bars := make([]Bar, 0, maxBars)
	for i := 0; i < maxBars; i++ {
		start := i * size
		end := start + size
		if i == maxBars-1 {
			end = n
		}
		group := vals[start:end]

		label := fmt.Sprintf("%.2f", group[0])
		if len(group) > 1 {
			label = fmt.Sprintf("%.2f–%.2f", group[0], group[len(group)-1])
		}
		bars = append(bars, Bar{Label: label, Value: stat.Mean(group, nil), Count: len(group)})
	}
	return bars
}
