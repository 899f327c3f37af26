// Package preprocess turns decoded images into normalized CHW tensors.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

const DefaultSize = 224

// ErrDecode marks files that exist but are not a supported image.
var ErrDecode = errors.New("preprocess: cannot decode image")

var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Transform is the resize/tensor/normalize pipeline shared by training and
// inference.
type Transform struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

// NewTransform returns the ImageNet transform at the given square size.
func NewTransform(size int) Transform {
	if size <= 0 {
		size = DefaultSize
	}
	return Transform{Size: size, Mean: ImageNetMean, Std: ImageNetStd}
}

// Len is the number of float32 values Apply produces.
func (t Transform) Len() int {
	return 3 * t.Size * t.Size
}

// Resize flattens img to opaque RGB and scales it to Size×Size.
func (t Transform) Resize(img image.Image) image.Image {
	rgb := ToRGB(img)
	return resize.Resize(uint(t.Size), uint(t.Size), rgb, resize.Bilinear)
}

// Apply resizes, converts and normalizes img into a CHW tensor.
func (t Transform) Apply(img image.Image) []float32 {
	out := make([]float32, t.Len())
	t.ApplyTo(out, img)
	return out
}

// ApplyTo writes the tensor for img into dst, which must hold Len() values.
func (t Transform) ApplyTo(dst []float32, img image.Image) {
	t.Tensor(dst, t.Resize(img))
}

// Tensor converts an already resized image into dst without resizing it
// again. Training uses this after augmentation.
func (t Transform) Tensor(dst []float32, resized image.Image) {
	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width != t.Size || height != t.Size {
		resized = resize.Resize(uint(t.Size), uint(t.Size), resized, resize.Bilinear)
		bounds = resized.Bounds()
		width, height = t.Size, t.Size
	}
	plane := width * height

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			dst[pixelIndex] = (float32(r)/65535.0 - t.Mean[0]) / t.Std[0]
			dst[plane+pixelIndex] = (float32(g)/65535.0 - t.Mean[1]) / t.Std[1]
			dst[2*plane+pixelIndex] = (float32(b)/65535.0 - t.Mean[2]) / t.Std[2]
		}
	}
}

// ToRGB drops the alpha channel without premultiplying, so a translucent
// pixel keeps its stored color.
func ToRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// DecodeFile opens and decodes a JPEG, PNG or GIF image.
func DecodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("preprocess: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w %s: %w", ErrDecode, path, err)
	}
	return img, format, nil
}
