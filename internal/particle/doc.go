// Package particle computes particle geometry from closed contours and converts
// pixel measurements to physical units.
//
// # Coordinate System
//
// Contours are ordered sequences of integer pixel coordinates with (0,0) at the
// top-left corner, X increasing rightward and Y increasing downward. A contour is
// always treated as closed: the last point connects back to the first.
//
// # Measurements
//
// For every accepted contour the following metrics are produced:
//   - Perimeter: closed-path arc length
//   - Area: enclosed polygon area
//   - Length, Width: longer and shorter side of the minimum-area oriented rectangle
//   - Diameter: equivalent circular diameter, sqrt(4*Area/pi)
//   - Centroid: first-moment centroid truncated to whole pixels
//
// Geometry is computed with gocv on the contour's point vector.
//
// All pixel-space values are rounded to two decimals when emitted. Averages and
// unit conversion consume the rounded values.
//
// # Calibration
//
// A CalibrationProfile carries a coefficient (pixels per division) and a division
// price (physical units per division). A zero coefficient means uncalibrated and
// conversion returns pixel values unchanged.
package particle
