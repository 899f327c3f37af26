package predict

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// redness scores "curry" by the red channel and "rice" by the blue one.
type redness struct {
	tr      preprocess.Transform
	gotK    int
	failure error
}

func (m *redness) Transform() preprocess.Transform { return m.tr }

func (m *redness) Predict(_ context.Context, input []float32, k int) ([]model.Prediction, error) {
	m.gotK = k
	if m.failure != nil {
		return nil, m.failure
	}
	plane := m.tr.Size * m.tr.Size
	if input[0] > input[2*plane] {
		return []model.Prediction{{Label: "curry", Confidence: 90}, {Label: "rice", Confidence: 10}}, nil
	}
	return []model.Prediction{{Label: "rice", Confidence: 80}, {Label: "curry", Confidence: 20}}, nil
}

func writeJPEG(t *testing.T, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 9))
	for y := 0; y < 9; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(t.TempDir(), "dish.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
	return path
}

func TestPredictFile(t *testing.T) {
	m := &redness{tr: preprocess.NewTransform(4)}
	p := New(m, zaptest.NewLogger(t))

	preds, err := p.PredictFile(context.Background(), writeJPEG(t, color.RGBA{R: 220, G: 90, B: 10, A: 255}), 2)
	require.NoError(t, err)
	assert.Equal(t, "curry", preds[0].Label)
	assert.Equal(t, 2, m.gotK)

	preds, err = p.PredictFile(context.Background(), writeJPEG(t, color.RGBA{R: 10, G: 90, B: 220, A: 255}), 0)
	require.NoError(t, err)
	assert.Equal(t, "rice", preds[0].Label)
	assert.Equal(t, DefaultTopK, m.gotK)
}

func TestPredictFileErrors(t *testing.T) {
	m := &redness{tr: preprocess.NewTransform(4)}
	p := New(m, zaptest.NewLogger(t))

	_, err := p.PredictFile(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), 3)
	assert.Error(t, err)

	bogus := filepath.Join(t.TempDir(), "bogus.jpg")
	require.NoError(t, os.WriteFile(bogus, []byte("GIF89a but not really"), 0o644))
	_, err = p.PredictFile(context.Background(), bogus, 3)
	assert.Error(t, err)

	m.failure = errors.New("session closed")
	_, err = p.PredictFile(context.Background(), writeJPEG(t, color.White), 3)
	assert.ErrorIs(t, err, m.failure)
}
