package particle

import (
	"fmt"
	"strings"
)

// CalibrationProfile converts pixel measurements to physical units.
type CalibrationProfile struct {
	// Coefficient is pixels per division. Zero means uncalibrated.
	Coefficient float64 `json:"coefficient"`

	// DivisionPrice is physical units per division. Zero is read as 1.
	DivisionPrice float64 `json:"division_price"`
}

// NewProfile builds a profile; a non-positive division price becomes 1.
func NewProfile(coefficient, divisionPrice float64) CalibrationProfile {
	if divisionPrice <= 0 {
		divisionPrice = 1
	}
	if coefficient < 0 {
		coefficient = 0
	}
	return CalibrationProfile{Coefficient: coefficient, DivisionPrice: divisionPrice}
}

// Uncalibrated returns the pass-through profile.
func Uncalibrated() CalibrationProfile {
	return CalibrationProfile{DivisionPrice: 1}
}

// Calibrated reports whether conversion changes values.
func (p CalibrationProfile) Calibrated() bool {
	return p.Coefficient > 0
}

func (p CalibrationProfile) price() float64 {
	if p.DivisionPrice == 0 {
		return 1
	}
	return p.DivisionPrice
}

// Convert rescales a pixel value: v / coefficient * divisionPrice.
// Uncalibrated profiles return v unchanged.
func (p CalibrationProfile) Convert(v float64) float64 {
	if p.Coefficient <= 0 {
		return v
	}
	return v / p.Coefficient * p.price()
}

// ToPixels inverts Convert.
func (p CalibrationProfile) ToPixels(v float64) float64 {
	if p.Coefficient <= 0 {
		return v
	}
	return v / p.price() * p.Coefficient
}

// Squared returns the profile for area-like quantities, which scale with the
// square of both factors.
func (p CalibrationProfile) Squared() CalibrationProfile {
	return CalibrationProfile{
		Coefficient:   p.Coefficient * p.Coefficient,
		DivisionPrice: p.price() * p.price(),
	}
}

// Apply converts every metric of m. Area uses the squared profile; the
// centroid stays in pixels because it is a display position.
func (p CalibrationProfile) Apply(m Measurement) Measurement {
	if !p.Calibrated() {
		return m
	}
	sq := p.Squared()
	m.Perimeter = p.Convert(m.Perimeter)
	m.Area = sq.Convert(m.Area)
	m.Length = p.Convert(m.Length)
	m.Width = p.Convert(m.Width)
	m.Diameter = p.Convert(m.Diameter)
	return m
}

// Mode describes how a microscope obtains its calibration.
type Mode string

const (
	// ModeDefault reports pixel values.
	ModeDefault Mode = "DEFAULT"
	// ModeManual uses a hand-entered coefficient.
	ModeManual Mode = "MANUAL"
	// ModeAutomatic uses a coefficient computed from a reference image.
	ModeAutomatic Mode = "AUTOMATIC"
)

// ParseMode parses a mode name, case-insensitively. Empty means ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ModeDefault:
		return ModeDefault, nil
	case ModeManual:
		return ModeManual, nil
	case ModeAutomatic:
		return ModeAutomatic, nil
	default:
		return "", fmt.Errorf("unknown microscope mode: %s", s)
	}
}

// Profile returns the profile to use for a microscope in this mode.
func (m Mode) Profile(coefficient, divisionPrice float64) CalibrationProfile {
	if m == ModeDefault {
		return Uncalibrated()
	}
	return NewProfile(coefficient, divisionPrice)
}
