// Package preprocess turns an uploaded X-ray file into the input tensor the
// pneumonia classifier was trained on: 150x150 RGB, NHWC layout, batch size
// one, pixel values scaled into [0, 1].
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	// TargetSize is the square edge length the classifier expects.
	TargetSize = 150
	// Channels is the number of colour channels per pixel (RGB).
	Channels = 3
)

// ErrImage is returned when a file cannot be opened or decoded as an image.
var ErrImage = errors.New("unreadable image")

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Load opens the image at path and converts it with FromImage. Any I/O or
// decode failure is reported as ErrImage.
func Load(path string) (*Tensor, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImage, err)
	}
	return FromImage(img), nil
}

// FromImage resizes img to TargetSize x TargetSize with nearest-neighbour
// sampling (aspect ratio is not kept), drops alpha, and scales each channel by
// 1/255.
func FromImage(img image.Image) *Tensor {
	resized := imaging.Resize(img, TargetSize, TargetSize, imaging.NearestNeighbor)
	data := make([]float32, 0, TargetSize*TargetSize*Channels)
	for y := 0; y < TargetSize; y++ {
		for x := 0; x < TargetSize; x++ {
			i := resized.PixOffset(x, y)
			px := resized.Pix[i : i+Channels : i+Channels]
			data = append(data, float32(px[0])/255, float32(px[1])/255, float32(px[2])/255)
		}
	}
	return &Tensor{
		Shape: []int64{1, TargetSize, TargetSize, Channels},
		Data:  data,
	}
}
