package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"gocv.io/x/gocv"
)

// ToMat converts a Go image into an 8-bit Mat. Grayscale images become
// single-channel Mats; everything else becomes 3-channel BGR.
//
// The caller owns the returned Mat and must Close it.
func ToMat(img image.Image) (gocv.Mat, error) {
	if img == nil || img.Bounds().Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	var (
		mat gocv.Mat
		err error
	)
	if g, ok := img.(*image.Gray); ok {
		mat, err = gocv.ImageGrayToMatGray(g)
	} else {
		mat, err = gocv.ImageToMatRGB(img)
	}
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return mat, nil
}

// FromMat converts a Mat back into a Go image.
func FromMat(mat gocv.Mat) (image.Image, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("%w: empty matrix", ErrInvalidImage)
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert matrix: %w", err)
	}
	return img, nil
}

// ImageResult contains a processed image encoded as base64 PNG.
type ImageResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodePNG encodes img as a base64 PNG result.
func EncodePNG(img image.Image) (*ImageResult, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &ImageResult{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}
