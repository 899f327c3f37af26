package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"golang.org/x/sync/errgroup"
)

// Batch holds N preprocessed images back to back and their labels.
type Batch struct {
	Inputs []float32
	Labels []int
	N      int
}

// Loader walks an ImageFolder in batches.
type Loader struct {
	Dataset   *ImageFolder
	Transform preprocess.Transform
	BatchSize int
	Shuffle   bool
	// Augment is applied after resizing when set. Leave nil for evaluation.
	Augment *preprocess.Augmenter
	// Workers bounds concurrent decodes per batch; 0 means GOMAXPROCS.
	Workers int

	rng *rand.Rand
}

// NewLoader returns a loader whose shuffle order is derived from seed.
func NewLoader(ds *ImageFolder, transform preprocess.Transform, batchSize int, shuffle bool, seed uint64) *Loader {
	return &Loader{
		Dataset:   ds,
		Transform: transform,
		BatchSize: batchSize,
		Shuffle:   shuffle,
		rng:       rand.New(rand.NewPCG(seed, 0xda7a)),
	}
}

// NumBatches is the number of batches one epoch yields.
func (l *Loader) NumBatches() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (l.Dataset.Len() + l.BatchSize - 1) / l.BatchSize
}

// Epoch calls fn for every batch of one pass over the dataset. The order is
// reshuffled on each call when Shuffle is set. It stops at the first error
// from decoding, fn, or ctx.
func (l *Loader) Epoch(ctx context.Context, fn func(Batch) error) error {
	if l.BatchSize <= 0 {
		return fmt.Errorf("dataset: batch size must be positive, got %d", l.BatchSize)
	}
	order := make([]int, l.Dataset.Len())
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	for start := 0; start < len(order); start += l.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+l.BatchSize, len(order))
		batch, err := l.load(ctx, order[start:end])
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) load(ctx context.Context, indices []int) (Batch, error) {
	per := l.Transform.Len()
	batch := Batch{
		Inputs: make([]float32, len(indices)*per),
		Labels: make([]int, len(indices)),
		N:      len(indices),
	}

	workers := l.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for slot, idx := range indices {
		sample := l.Dataset.Samples[idx]
		batch.Labels[slot] = sample.Label
		dst := batch.Inputs[slot*per : (slot+1)*per]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, _, err := preprocess.DecodeFile(sample.Path)
			if err != nil {
				return fmt.Errorf("dataset: %w", err)
			}
			resized := l.Transform.Resize(img)
			if l.Augment != nil {
				resized = l.Augment.Apply(resized)
			}
			l.Transform.Tensor(dst, resized)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}
	return batch, nil
}
