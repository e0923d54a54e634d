package particle

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Contour is a closed polygon in pixel coordinates.
type Contour []image.Point

// PointVector returns c as a gocv point vector. The caller must Close it.
func (c Contour) PointVector() gocv.PointVector {
	return gocv.NewPointVectorFromPoints(c)
}

// Bounds returns the smallest upright rectangle containing every point of c.
func (c Contour) Bounds() image.Rectangle {
	if len(c) == 0 {
		return image.Rectangle{}
	}
	pv := c.PointVector()
	defer pv.Close()
	return gocv.BoundingRect(pv)
}

// moments returns the polygon moments of c. An n x 2 CV_32S matrix is read by
// gocv.Moments as a point set, not as an image.
func (c Contour) moments() map[string]float64 {
	mat := gocv.NewMatWithSize(len(c), 2, gocv.MatTypeCV32S)
	defer mat.Close()
	for i, p := range c {
		mat.SetIntAt(i, 0, int32(p.X))
		mat.SetIntAt(i, 1, int32(p.Y))
	}
	return gocv.Moments(mat, false)
}

// orientedSides returns the sides of the minimum-area rectangle around c,
// longer first.
//
// gocv reports the rectangle size in whole pixels, so only its angle is used;
// the sides are the extents of c projected onto the rectangle's axes.
func orientedSides(c Contour, pv gocv.PointVector) (long, short float64) {
	rect := gocv.MinAreaRect(pv)
	theta := rect.Angle * math.Pi / 180
	ux, uy := math.Cos(theta), math.Sin(theta)

	minU, maxU := math.Inf(1), math.Inf(-1)
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, p := range c {
		x, y := float64(p.X), float64(p.Y)
		u := x*ux + y*uy
		v := y*ux - x*uy
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
	}

	a, b := maxU-minU, maxV-minV
	return math.Max(a, b), math.Min(a, b)
}
