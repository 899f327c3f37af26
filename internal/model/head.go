package model

import (
	"math"
	"math/rand/v2"
)

// Head is the replaced final layer: a dense linear map from backbone
// features to class logits.
type Head struct {
	Weight  []float32 // row-major [Classes, InDim]
	Bias    []float32 // [Classes]
	InDim   int
	Classes int
}

// NewHead returns a head initialized uniformly in ±1/sqrt(inDim).
func NewHead(inDim, classes int, seed uint64) *Head {
	h := &Head{
		Weight:  make([]float32, classes*inDim),
		Bias:    make([]float32, classes),
		InDim:   inDim,
		Classes: classes,
	}
	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	bound := 1 / math.Sqrt(float64(inDim))
	for i := range h.Weight {
		h.Weight[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	for i := range h.Bias {
		h.Bias[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return h
}

// Forward maps n feature vectors to n logit vectors.
func (h *Head) Forward(features []float32, n int) []float32 {
	out := make([]float32, n*h.Classes)
	for s := 0; s < n; s++ {
		x := features[s*h.InDim : (s+1)*h.InDim]
		logits := out[s*h.Classes : (s+1)*h.Classes]
		for c := 0; c < h.Classes; c++ {
			row := h.Weight[c*h.InDim : (c+1)*h.InDim]
			sum := h.Bias[c]
			for j, w := range row {
				sum += w * x[j]
			}
			logits[c] = sum
		}
	}
	return out
}
