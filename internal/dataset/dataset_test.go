package dataset

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// foodTree builds root/<class>/ with the given number of images per class.
func foodTree(t *testing.T, counts map[string]int) string {
	t.Helper()
	root := t.TempDir()
	for class, n := range counts {
		for i := 0; i < n; i++ {
			writePNG(t, filepath.Join(root, class, class+"_"+string(rune('a'+i))+".png"), color.White)
		}
	}
	return root
}

func TestNewImageFolder(t *testing.T) {
	root := foodTree(t, map[string]int{"rice": 2, "bread": 1, "curry": 3})
	// Noise the scan must skip.
	require.NoError(t, os.WriteFile(filepath.Join(root, "rice", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))
	writePNG(t, filepath.Join(root, "curry", "nested", "deep.png"), color.Black)

	ds, err := NewImageFolder(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"bread", "curry", "rice"}, ds.Classes)
	assert.Equal(t, 7, ds.Len())
	assert.Equal(t, 0, ds.Samples[0].Label)
	assert.Equal(t, filepath.Join(root, "bread", "bread_a.png"), ds.Samples[0].Path)
	assert.Equal(t, 2, ds.Samples[ds.Len()-1].Label)

	counts := map[int]int{}
	for _, s := range ds.Samples {
		counts[s.Label]++
	}
	assert.Equal(t, map[int]int{0: 1, 1: 4, 2: 2}, counts)
}

func TestNewImageFolderErrors(t *testing.T) {
	_, err := NewImageFolder(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = NewImageFolder(t.TempDir())
	assert.Error(t, err, "no classes")

	root := foodTree(t, map[string]int{"rice": 1})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bread"), 0o755))
	_, err = NewImageFolder(root)
	assert.True(t, errors.Is(err, ErrNoSamples), "got %v", err)
}

func TestLoaderEpoch(t *testing.T) {
	root := foodTree(t, map[string]int{"rice": 3, "bread": 2})
	ds, err := NewImageFolder(root)
	require.NoError(t, err)

	tr := preprocess.NewTransform(4)
	l := NewLoader(ds, tr, 2, false, 1)
	l.Workers = 2
	assert.Equal(t, 3, l.NumBatches())

	var sizes []int
	var labels []int
	err = l.Epoch(context.Background(), func(b Batch) error {
		sizes = append(sizes, b.N)
		labels = append(labels, b.Labels...)
		assert.Len(t, b.Inputs, b.N*tr.Len())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{0, 0, 1, 1, 1}, labels)
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	root := foodTree(t, map[string]int{"rice": 4, "bread": 4})
	ds, err := NewImageFolder(root)
	require.NoError(t, err)

	order := func(seed uint64) []int {
		l := NewLoader(ds, preprocess.NewTransform(2), 8, true, seed)
		var labels []int
		require.NoError(t, l.Epoch(context.Background(), func(b Batch) error {
			labels = append(labels, b.Labels...)
			return nil
		}))
		return labels
	}
	first := order(3)
	assert.Equal(t, first, order(3))
	assert.ElementsMatch(t, []int{0, 0, 0, 0, 1, 1, 1, 1}, first)
}

func TestLoaderAugmentKeepsShape(t *testing.T) {
	root := foodTree(t, map[string]int{"rice": 2})
	ds, err := NewImageFolder(root)
	require.NoError(t, err)

	tr := preprocess.NewTransform(4)
	l := NewLoader(ds, tr, 2, true, 1)
	l.Augment = preprocess.NewAugmenter(1)
	require.NoError(t, l.Epoch(context.Background(), func(b Batch) error {
		assert.Len(t, b.Inputs, 2*tr.Len())
		return nil
	}))
}

func TestLoaderStopsOnError(t *testing.T) {
	root := foodTree(t, map[string]int{"rice": 2})
	require.NoError(t, os.WriteFile(filepath.Join(root, "rice", "broken.png"), []byte("nope"), 0o644))
	ds, err := NewImageFolder(root)
	require.NoError(t, err)

	l := NewLoader(ds, preprocess.NewTransform(2), 4, false, 1)
	err = l.Epoch(context.Background(), func(Batch) error { return nil })
	assert.Error(t, err, "corrupt image")

	clean, err := NewImageFolder(foodTree(t, map[string]int{"rice": 2}))
	require.NoError(t, err)
	sentinel := errors.New("stop")
	l = NewLoader(clean, preprocess.NewTransform(2), 1, false, 1)
	err = l.Epoch(context.Background(), func(Batch) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = l.Epoch(ctx, func(Batch) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
