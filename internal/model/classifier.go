package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/Brownie44l1/food-classifier/internal/checkpoint"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"go.uber.org/zap"
)

// Options locates everything Build needs.
type Options struct {
	ModelPath      string
	MetadataPath   string
	RuntimeLibPath string
	// CheckpointPath may be empty when the graph already emits class logits.
	CheckpointPath string
	Classes        []string
	Seed           uint64
}

// Classifier is a backbone followed by a linear head. A nil head means the
// backbone output is used as logits directly.
type Classifier struct {
	backbone  Backbone
	head      *Head
	classes   []string
	transform preprocess.Transform
	logger    *zap.Logger
}

// Build loads the ONNX backbone described by opts and attaches a head with
// trained weights from the checkpoint.
func Build(opts Options, logger *zap.Logger) (*Classifier, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	logger.Info("loading backbone", zap.String("model", opts.ModelPath), zap.Int64s("input_shape", metadata.InputShape))
	backbone, err := NewONNXBackbone(opts.ModelPath, opts.RuntimeLibPath, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backbone: %w", err)
	}

	c, err := New(backbone, TransformFor(metadata), opts.Classes, logger)
	if err != nil {
		backbone.Close()
		return nil, err
	}
	if err := c.attachHead(opts.CheckpointPath, opts.Seed); err != nil {
		backbone.Close()
		return nil, err
	}
	return c, nil
}

// TransformFor returns the preprocessing transform matching the graph.
func TransformFor(metadata Metadata) preprocess.Transform {
	t := preprocess.NewTransform(metadata.ImageSize)
	if len(metadata.Mean) == 3 {
		copy(t.Mean[:], metadata.Mean)
	}
	if len(metadata.Std) == 3 {
		copy(t.Std[:], metadata.Std)
	}
	return t
}

// New wraps a backbone with an untrained head sized for classes.
func New(backbone Backbone, transform preprocess.Transform, classes []string, logger *zap.Logger) (*Classifier, error) {
	if len(classes) == 0 {
		return nil, errors.New("classifier needs at least one class")
	}
	if backbone.Dim() <= 0 {
		return nil, fmt.Errorf("backbone reports %d output values", backbone.Dim())
	}
	return &Classifier{
		backbone:  backbone,
		head:      NewHead(backbone.Dim(), len(classes), 0),
		classes:   classes,
		transform: transform,
		logger:    logger,
	}, nil
}

func (c *Classifier) attachHead(path string, seed uint64) error {
	if path == "" {
		if c.backbone.Dim() != len(c.classes) {
			return fmt.Errorf("no checkpoint configured and backbone emits %d values for %d classes",
				c.backbone.Dim(), len(c.classes))
		}
		c.head = nil
		c.logger.Info("using backbone output as logits", zap.Int("classes", len(c.classes)))
		return nil
	}
	c.head = NewHead(c.backbone.Dim(), len(c.classes), seed)
	_, err := c.LoadCheckpoint(path)
	return err
}

// LoadCheckpoint reads head weights from a safetensors file.
func (c *Classifier) LoadCheckpoint(path string) (checkpoint.LoadResult, error) {
	if c.head == nil {
		return checkpoint.LoadResult{}, errors.New("classifier has no trainable head")
	}
	sd, _, err := checkpoint.Read(path)
	if err != nil {
		return checkpoint.LoadResult{}, err
	}
	res, err := checkpoint.LoadHead(sd, c.head.Classes, c.head.InDim, c.head.Weight, c.head.Bias)
	if err != nil {
		return checkpoint.LoadResult{}, fmt.Errorf("load %s: %w", path, err)
	}

	fields := []zap.Field{
		zap.String("path", path),
		zap.Stringer("mode", res.Mode),
		zap.Strings("loaded", res.Loaded),
		zap.Int("ignored", res.Ignored),
	}
	switch res.Mode {
	case checkpoint.ModePartial:
		c.logger.Warn("loaded checkpoint partially", fields...)
	default:
		c.logger.Info("loaded checkpoint", fields...)
	}
	return res, nil
}

// Classes returns the label list, indexed by model output.
func (c *Classifier) Classes() []string {
	return c.classes
}

// Head returns the linear head, or nil when the backbone emits logits.
func (c *Classifier) Head() *Head {
	return c.head
}

// Transform returns the preprocessing transform the backbone expects.
func (c *Classifier) Transform() preprocess.Transform {
	return c.transform
}

// Features runs the backbone only.
func (c *Classifier) Features(ctx context.Context, batch []float32, n int) ([]float32, error) {
	return c.backbone.Features(ctx, batch, n)
}

// Logits runs the full forward pass for n images.
func (c *Classifier) Logits(ctx context.Context, batch []float32, n int) ([]float32, error) {
	features, err := c.backbone.Features(ctx, batch, n)
	if err != nil {
		return nil, err
	}
	if c.head == nil {
		return features, nil
	}
	return c.head.Forward(features, n), nil
}

// Predict returns the k most likely labels for one preprocessed image.
func (c *Classifier) Predict(ctx context.Context, input []float32, k int) ([]Prediction, error) {
	if len(input) != c.transform.Len() {
		return nil, fmt.Errorf("expected %d values, got %d", c.transform.Len(), len(input))
	}
	logits, err := c.Logits(ctx, input, 1)
	if err != nil {
		return nil, err
	}
	if len(logits) != len(c.classes) {
		return nil, fmt.Errorf("model produced %d scores for %d classes", len(logits), len(c.classes))
	}

	probs := Softmax(logits)
	top := TopK(probs, k)
	predictions := make([]Prediction, len(top))
	for i, idx := range top {
		predictions[i] = Prediction{
			Label:      c.classes[idx],
			Confidence: probs[idx] * 100,
		}
	}
	return predictions, nil
}

// Close releases the backbone.
func (c *Classifier) Close() error {
	return c.backbone.Close()
}
