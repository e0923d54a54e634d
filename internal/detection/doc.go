// Package detection locates particle outlines in normalized photographs.
//
// # Algorithm Overview
//
//  1. Binarization: inverse fixed threshold, so dark particles become foreground
//  2. Boundary tracing: outer boundaries only, collapsed to corner vertices
//  3. Filtering: drop boundaries below a minimum enclosed area, and optionally
//     those touching the image frame
//
// # Coordinate System
//
// All coordinates use the standard image convention:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//   - Bounding boxes use inclusive top-left and exclusive bottom-right
//
// # Ordering
//
// Contours are returned in tracing order, which depends on the tracer and not
// on particle position. Callers that need spatial numbering must sort.
package detection
