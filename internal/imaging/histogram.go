package imaging

import (
	"image"

	"github.com/anthonynsimon/bild/histogram"
)

// IntensitySummary describes the luminance distribution of a grayscale image.
// It is used to judge whether a normalized photograph will threshold cleanly.
type IntensitySummary struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`

	// Median is the lowest level at which half of the pixels are reached.
	Median int `json:"median"`

	// DarkFraction is the share of pixels at or below Threshold, i.e. the
	// pixels the contour extractor will treat as particle.
	DarkFraction float64 `json:"dark_fraction"`
	Threshold    int     `json:"threshold"`

	Pixels int `json:"pixels"`
}

// SummarizeIntensity builds an IntensitySummary from the red channel of img,
// which equals luminance for grayscale images.
func SummarizeIntensity(img image.Image, threshold int) IntensitySummary {
	hist := histogram.NewRGBAHistogram(img)
	bins := hist.R.Bins

	s := IntensitySummary{Min: -1, Threshold: threshold}
	var sum float64
	dark := 0
	for level, n := range bins {
		if n == 0 {
			continue
		}
		if s.Min < 0 {
			s.Min = level
		}
		s.Max = level
		s.Pixels += n
		sum += float64(level * n)
		if level <= threshold {
			dark += n
		}
	}

	if s.Pixels == 0 {
		s.Min = 0
		return s
	}

	s.Mean = sum / float64(s.Pixels)
	s.DarkFraction = float64(dark) / float64(s.Pixels)

	half := (s.Pixels + 1) / 2
	seen := 0
	for level, n := range bins {
		seen += n
		if seen >= half {
			s.Median = level
			break
		}
	}
	return s
}
