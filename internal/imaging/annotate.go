package imaging

import (
	"fmt"
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
)

// Label is text drawn at a pixel position.
type Label struct {
	Text string
	At   image.Point
}

var (
	outlineRed = color.RGBA{R: 255, A: 255}
	labelWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelBlack = color.RGBA{A: 255}
)

// Canvas returns a 3-channel copy of base suitable for colored drawing.
// The caller owns the returned Mat.
func Canvas(base gocv.Mat) (gocv.Mat, error) {
	if base.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	out := gocv.NewMat()
	switch base.Channels() {
	case 1:
		gocv.CvtColor(base, &out, gocv.ColorGrayToBGR)
	case 3:
		base.CopyTo(&out)
	case 4:
		gocv.CvtColor(base, &out, gocv.ColorBGRAToBGR)
	default:
		out.Close()
		return gocv.NewMat(), fmt.Errorf("%w: unsupported channel count %d", ErrInvalidImage, base.Channels())
	}
	return out, nil
}

// DrawOutlines draws every outline in red, two pixels wide, on a copy of base.
// The caller owns the returned Mat.
func DrawOutlines(base gocv.Mat, outlines [][]image.Point) (gocv.Mat, error) {
	out, err := Canvas(base)
	if err != nil {
		return out, err
	}
	if len(outlines) == 0 {
		return out, nil
	}

	pv := gocv.NewPointsVectorFromPoints(outlines)
	defer pv.Close()
	gocv.DrawContours(&out, pv, -1, outlineRed, 2)
	return out, nil
}

// Annotate draws each outline in its own color and writes the labels over
// them, white with a black core so they read on any background.
// The caller owns the returned Mat.
func Annotate(base gocv.Mat, outlines [][]image.Point, labels []Label) (gocv.Mat, error) {
	out, err := Canvas(base)
	if err != nil {
		return out, err
	}

	if len(outlines) > 0 {
		pv := gocv.NewPointsVectorFromPoints(outlines)
		defer pv.Close()

		palette := colorful.FastHappyPalette(len(outlines))
		for i := range outlines {
			r, g, b := palette[i].RGB255()
			gocv.DrawContours(&out, pv, i, color.RGBA{R: r, G: g, B: b, A: 255}, 2)
		}
	}

	for _, l := range labels {
		gocv.PutText(&out, l.Text, l.At, gocv.FontHersheySimplex, 0.5, labelWhite, 6)
		gocv.PutText(&out, l.Text, l.At, gocv.FontHersheySimplex, 0.5, labelBlack, 2)
	}
	return out, nil
}
