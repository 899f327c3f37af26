// Package predict runs single-image inference from a file or decoded image.
package predict

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"go.uber.org/zap"
)

// DefaultTopK is the number of labels returned when callers do not ask for
// a specific count.
const DefaultTopK = 3

// Model is the part of the classifier inference needs.
type Model interface {
	Transform() preprocess.Transform
	Predict(ctx context.Context, input []float32, k int) ([]model.Prediction, error)
}

// Predictor preprocesses images and ranks labels.
type Predictor struct {
	model  Model
	logger *zap.Logger
}

// New returns a Predictor over m.
func New(m Model, logger *zap.Logger) *Predictor {
	return &Predictor{model: m, logger: logger}
}

// PredictFile decodes the image at path and returns its top k labels.
func (p *Predictor) PredictFile(ctx context.Context, path string, k int) ([]model.Prediction, error) {
	img, format, err := preprocess.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("decoded image",
		zap.String("path", path),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return p.PredictImage(ctx, img, k)
}

// PredictImage returns the top k labels for img. k <= 0 selects DefaultTopK.
func (p *Predictor) PredictImage(ctx context.Context, img image.Image, k int) ([]model.Prediction, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	start := time.Now()
	input := p.model.Transform().Apply(img)

	preds, err := p.model.Predict(ctx, input, k)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	p.logger.Debug("prediction complete",
		zap.Int("k", k),
		zap.Duration("elapsed", time.Since(start)))
	return preds, nil
}
