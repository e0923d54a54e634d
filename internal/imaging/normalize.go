package imaging

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Normalizer prepares raw photographs for thresholding.
//
// The algorithm:
//
//  1. Grayscale conversion (BGR or BGRA luminance)
//  2. CLAHE: histogram equalization over a fixed TileGrid x TileGrid layout,
//     with counts clipped at ClipLimit to stop noise amplification in flat tiles
//  3. Gaussian blur with a BlurKernel x BlurKernel kernel to suppress the speckle
//     that equalization produces
//
// The constants are fixed configuration, never derived from the image, so two
// photographs of the same sample normalize identically.
type Normalizer struct {
	ClipLimit  float64
	TileGrid   int
	BlurKernel int
}

// DefaultNormalizer returns the normalizer used for particle photographs:
// clip limit 2.0, 8x8 tiles, 5x5 blur.
func DefaultNormalizer() *Normalizer {
	return &Normalizer{ClipLimit: 2.0, TileGrid: 8, BlurKernel: 5}
}

// Normalize returns a new single-channel 8-bit Mat. The caller owns it.
//
// Returns an error wrapping ErrInvalidImage for empty input or an unsupported
// channel count.
func (n *Normalizer) Normalize(src gocv.Mat) (gocv.Mat, error) {
	if src.Empty() || src.Rows() == 0 || src.Cols() == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	gray := gocv.NewMat()
	defer gray.Close()

	switch src.Channels() {
	case 1:
		src.CopyTo(&gray)
	case 3:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		return gocv.NewMat(), fmt.Errorf("%w: unsupported channel count %d", ErrInvalidImage, src.Channels())
	}

	clahe := gocv.NewCLAHEWithParams(n.ClipLimit, image.Point{X: n.TileGrid, Y: n.TileGrid})
	defer clahe.Close()

	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(gray, &equalized)

	out := gocv.NewMat()
	gocv.GaussianBlur(equalized, &out, image.Point{X: n.BlurKernel, Y: n.BlurKernel}, 0, 0, gocv.BorderDefault)
	return out, nil
}

// NormalizeImage is Normalize for Go images.
func (n *Normalizer) NormalizeImage(img image.Image) (image.Image, error) {
	src, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	out, err := n.Normalize(src)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	return FromMat(out)
}
