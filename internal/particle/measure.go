package particle

import (
	"math"

	"gocv.io/x/gocv"
)

// Measurement holds the metrics of a single particle.
//
// Number is assigned by the batch analyzer; Measure leaves it zero.
// JSON field names follow the research record format consumed by callers.
type Measurement struct {
	// Number is the batch-wide sequence number, starting at 1.
	Number int `json:"contour_number"`

	// Image is the name of the source image.
	Image string `json:"image,omitempty"`

	Perimeter float64 `json:"perimeter"`
	Area      float64 `json:"area"`
	Length    float64 `json:"length"`
	Width     float64 `json:"width"`

	// Diameter is the equivalent circular diameter.
	Diameter float64 `json:"dek"`

	// CX, CY is the centroid used as display position.
	CX int `json:"cx"`
	CY int `json:"cy"`
}

// Measure computes pixel-space metrics for a contour.
//
// Returns false when the contour is degenerate (zero area moment); such a
// contour contributes no measurement and is not an error.
func Measure(c Contour) (Measurement, bool) {
	if len(c) < 3 {
		return Measurement{}, false
	}
	mo := c.moments()
	m00 := mo["m00"]
	if m00 <= 0 {
		return Measurement{}, false
	}

	pv := c.PointVector()
	defer pv.Close()

	area := gocv.ContourArea(pv)
	length, width := orientedSides(c, pv)

	return Measurement{
		Perimeter: round2(gocv.ArcLength(pv, true)),
		Area:      round2(area),
		Length:    round2(length),
		Width:     round2(width),
		Diameter:  round2(EquivalentDiameter(area)),
		CX:        int(mo["m10"] / m00),
		CY:        int(mo["m01"] / m00),
	}, true
}

// EquivalentDiameter returns the diameter of a circle with the given area.
func EquivalentDiameter(area float64) float64 {
	if area <= 0 {
		return 0
	}
	return math.Sqrt(4 * area / math.Pi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
