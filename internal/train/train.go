// Package train fine-tunes the classifier head on an image folder with the
// backbone frozen.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Brownie44l1/food-classifier/internal/checkpoint"
	"github.com/Brownie44l1/food-classifier/internal/dataset"
	"github.com/Brownie44l1/food-classifier/internal/labels"
	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"go.uber.org/zap"
)

// Config holds the optimization settings.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         uint64
	// Workers bounds concurrent image decodes; 0 means GOMAXPROCS.
	Workers int
	// Augment enables random flip and rotation on the training split.
	Augment bool
}

// DefaultConfig mirrors the settings the food classifier was tuned with.
func DefaultConfig() Config {
	return Config{
		Epochs:       50,
		BatchSize:    16,
		LearningRate: 1e-3,
		Seed:         1,
		Augment:      true,
	}
}

// EpochStats is the loss and accuracy (percent) of one epoch.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	TrainAcc  float64
	ValLoss   float64
	ValAcc    float64
}

// Result is a trained head and its label order.
type Result struct {
	Head    *model.Head
	Classes []string
	History []EpochStats
}

// Run trains a fresh head over backbone features. val may be nil to skip
// validation; otherwise its classes must match train's.
func Run(ctx context.Context, backbone model.Backbone, transform preprocess.Transform,
	trainSet, valSet *dataset.ImageFolder, cfg Config, logger *zap.Logger) (*Result, error) {
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 || cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("train: epochs, batch size and learning rate must be positive")
	}
	if valSet != nil && !slices.Equal(trainSet.Classes, valSet.Classes) {
		return nil, fmt.Errorf("train: validation classes %v differ from training classes %v",
			valSet.Classes, trainSet.Classes)
	}

	head := model.NewHead(backbone.Dim(), len(trainSet.Classes), cfg.Seed)
	trainable := len(head.Weight) + len(head.Bias)
	if trainable == 0 {
		return nil, errors.New("train: no trainable parameters")
	}
	logger.Info("training classifier head",
		zap.Strings("classes", trainSet.Classes),
		zap.Int("train_samples", trainSet.Len()),
		zap.Int("trainable_parameters", trainable),
		zap.Int("epochs", cfg.Epochs),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Float64("learning_rate", cfg.LearningRate))

	trainLoader := dataset.NewLoader(trainSet, transform, cfg.BatchSize, true, cfg.Seed)
	trainLoader.Workers = cfg.Workers
	if cfg.Augment {
		trainLoader.Augment = preprocess.NewAugmenter(cfg.Seed)
	}
	var valLoader *dataset.Loader
	if valSet != nil {
		valLoader = dataset.NewLoader(valSet, transform, cfg.BatchSize, false, cfg.Seed)
		valLoader.Workers = cfg.Workers
	}

	t := &trainer{
		backbone: backbone,
		head:     head,
		weights:  newAdam(len(head.Weight), cfg.LearningRate),
		biases:   newAdam(len(head.Bias), cfg.LearningRate),
	}

	res := &Result{Head: head, Classes: trainSet.Classes}
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		stats := EpochStats{Epoch: epoch}

		loss, acc, err := t.pass(ctx, trainLoader, true)
		if err != nil {
			return nil, fmt.Errorf("train: epoch %d: %w", epoch, err)
		}
		stats.TrainLoss, stats.TrainAcc = loss, acc

		fields := []zap.Field{
			zap.Int("epoch", epoch),
			zap.Int("of", cfg.Epochs),
			zap.Float64("train_loss", stats.TrainLoss),
			zap.Float64("train_acc", stats.TrainAcc),
		}
		if valLoader != nil {
			loss, acc, err := t.pass(ctx, valLoader, false)
			if err != nil {
				return nil, fmt.Errorf("train: epoch %d validation: %w", epoch, err)
			}
			stats.ValLoss, stats.ValAcc = loss, acc
			fields = append(fields, zap.Float64("val_loss", stats.ValLoss), zap.Float64("val_acc", stats.ValAcc))
		}
		fields = append(fields, zap.Duration("elapsed", time.Since(start)))
		logger.Info("epoch complete", fields...)
		res.History = append(res.History, stats)
	}
	return res, nil
}

// Save writes the head weights to checkpointPath and the label order to
// classesPath.
func Save(res *Result, checkpointPath, classesPath string) error {
	sd := checkpoint.HeadStateDict(res.Head.Weight, res.Head.Bias, res.Head.Classes, res.Head.InDim)
	meta := map[string]string{"format": "pt", "classes": fmt.Sprint(len(res.Classes))}
	if err := checkpoint.Write(checkpointPath, sd, meta); err != nil {
		return err
	}
	return labels.Save(classesPath, res.Classes)
}

type trainer struct {
	backbone model.Backbone
	head     *model.Head
	weights  *adam
	biases   *adam
}

// pass runs one epoch over l and returns mean loss and accuracy (percent).
// The head is updated after every batch when update is set.
func (t *trainer) pass(ctx context.Context, l *dataset.Loader, update bool) (float64, float64, error) {
	var lossSum float64
	var correct, total int
	err := l.Epoch(ctx, func(b dataset.Batch) error {
		features, err := t.backbone.Features(ctx, b.Inputs, b.N)
		if err != nil {
			return err
		}
		loss, hits := t.step(features, b.Labels, b.N, update)
		lossSum += loss * float64(b.N)
		correct += hits
		total += b.N
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	return lossSum / float64(total), float64(correct) / float64(total) * 100, nil
}

// step computes mean softmax cross-entropy over the batch and, when update
// is set, takes one optimizer step. It returns the mean loss and the number
// of correct argmax predictions.
func (t *trainer) step(features []float32, targets []int, n int, update bool) (float64, int) {
	h := t.head
	logits := h.Forward(features, n)

	var gradW, gradB []float64
	if update {
		gradW = make([]float64, len(h.Weight))
		gradB = make([]float64, len(h.Bias))
	}

	var loss float64
	hits := 0
	inv := 1 / float64(n)
	for s := 0; s < n; s++ {
		row := logits[s*h.Classes : (s+1)*h.Classes]
		probs := model.Softmax(row)
		y := targets[s]
		loss -= math.Log(math.Max(probs[y], 1e-12))
		if model.TopK(probs, 1)[0] == y {
			hits++
		}
		if !update {
			continue
		}
		x := features[s*h.InDim : (s+1)*h.InDim]
		for c := 0; c < h.Classes; c++ {
			d := probs[c]
			if c == y {
				d--
			}
			d *= inv
			gradB[c] += d
			gw := gradW[c*h.InDim : (c+1)*h.InDim]
			for j, v := range x {
				gw[j] += d * float64(v)
			}
		}
	}
	if update {
		t.weights.update(h.Weight, gradW)
		t.biases.update(h.Bias, gradB)
	}
	return loss * inv, hits
}
