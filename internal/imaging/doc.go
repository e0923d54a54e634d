// Package imaging provides the image plumbing for particle analysis.
//
// It loads and caches photographs, converts between Go images and OpenCV
// matrices, normalizes contrast before thresholding, and produces the visual
// artifacts (normalized images, contour overlays, numbered annotations) that
// are saved alongside analysis results.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner,
// X increasing rightward and Y increasing downward.
//
// # Matrix Ownership
//
// Functions that return a gocv.Mat hand ownership to the caller, who must
// Close it. Input Mats are never modified.
//
// # Thread Safety
//
// ImageCache and MemorySink are safe for concurrent use. Normalizer holds only
// configuration and may be shared between goroutines.
//
// # Error Handling
//
// Input that cannot be read as a pixel grid yields an error wrapping
// ErrInvalidImage, so callers can tell bad input apart from I/O failures.
package imaging
