package preprocess

import (
	"image"
	"image/color"
	"math/rand/v2"
	"sync"

	"github.com/disintegration/imaging"
)

// Augmenter applies the training-time random flip and rotation. It is safe
// for concurrent use.
type Augmenter struct {
	FlipProb    float64
	MaxRotation float64 // degrees, rotation is drawn from [-MaxRotation, MaxRotation]

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAugmenter returns the default augmentation (p=0.5 flip, ±15° rotation)
// drawing from a source seeded with seed.
func NewAugmenter(seed uint64) *Augmenter {
	return &Augmenter{
		FlipProb:    0.5,
		MaxRotation: 15,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (a *Augmenter) draw() (flip bool, angle float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	flip = a.rng.Float64() < a.FlipProb
	if a.MaxRotation > 0 {
		angle = (a.rng.Float64()*2 - 1) * a.MaxRotation
	}
	return flip, angle
}

// Apply returns a randomly flipped and rotated copy of img with the same
// dimensions. Corners uncovered by the rotation are black.
func (a *Augmenter) Apply(img image.Image) image.Image {
	flip, angle := a.draw()
	return augment(img, flip, angle)
}

func augment(img image.Image, flip bool, angle float64) image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := img
	if flip {
		out = imaging.FlipH(out)
	}
	if angle != 0 {
		rotated := imaging.Rotate(out, angle, color.Black)
		out = imaging.CropCenter(rotated, w, h)
	}
	return out
}
