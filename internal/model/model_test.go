package model

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/food-classifier/internal/checkpoint"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// channelMeans is a stand-in backbone whose features are the mean of each
// input channel.
type channelMeans struct {
	size   int
	closed bool
}

func (b *channelMeans) Dim() int { return 3 }

func (b *channelMeans) Features(_ context.Context, batch []float32, n int) ([]float32, error) {
	plane := b.size * b.size
	out := make([]float32, n*3)
	for s := 0; s < n; s++ {
		img := batch[s*3*plane : (s+1)*3*plane]
		for c := 0; c < 3; c++ {
			var sum float32
			for _, v := range img[c*plane : (c+1)*plane] {
				sum += v
			}
			out[s*3+c] = sum / float32(plane)
		}
	}
	return out, nil
}

func (b *channelMeans) Close() error {
	b.closed = true
	return nil
}

func constantInput(tr preprocess.Transform, r, g, b float32) []float32 {
	plane := tr.Size * tr.Size
	in := make([]float32, tr.Len())
	for i := 0; i < plane; i++ {
		in[i], in[plane+i], in[2*plane+i] = r, g, b
	}
	return in
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3})
	var sum float64
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, probs[2], probs[1])
	assert.Greater(t, probs[1], probs[0])

	// Large logits must not overflow.
	probs = Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.False(t, math.IsNaN(probs[1]))

	assert.Nil(t, Softmax(nil))
}

func TestTopK(t *testing.T) {
	values := []float64{0.1, 0.4, 0.2, 0.4}

	assert.Equal(t, []int{1, 3, 2}, TopK(values, 3))
	assert.Equal(t, []int{1, 3, 2, 0}, TopK(values, 10))
	assert.Empty(t, TopK(values, 0))
	assert.Empty(t, TopK(values, -2))
}

func TestPredictRanksByHead(t *testing.T) {
	tr := preprocess.NewTransform(2)
	classes := []string{"bread", "curry", "rice"}
	c, err := New(&channelMeans{size: 2}, tr, classes, zap.NewNop())
	require.NoError(t, err)

	// Each class reads one channel.
	h := c.Head()
	copy(h.Weight, []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	copy(h.Bias, []float32{0, 0, 0})

	preds, err := c.Predict(context.Background(), constantInput(tr, 0.5, 3, 1), 3)
	require.NoError(t, err)
	require.Len(t, preds, 3)
	assert.Equal(t, "curry", preds[0].Label)
	assert.Equal(t, "rice", preds[1].Label)
	assert.Equal(t, "bread", preds[2].Label)

	var total float64
	for _, p := range preds {
		total += p.Confidence
	}
	assert.InDelta(t, 100, total, 1e-6, "confidences are percentages over all classes")
}

func TestPredictClampsK(t *testing.T) {
	tr := preprocess.NewTransform(2)
	c, err := New(&channelMeans{size: 2}, tr, []string{"bread", "rice"}, zap.NewNop())
	require.NoError(t, err)

	preds, err := c.Predict(context.Background(), constantInput(tr, 0, 0, 0), 3)
	require.NoError(t, err)
	assert.Len(t, preds, 2)
}

func TestPredictRejectsWrongInputSize(t *testing.T) {
	tr := preprocess.NewTransform(2)
	c, err := New(&channelMeans{size: 2}, tr, []string{"bread"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Predict(context.Background(), make([]float32, 5), 1)
	assert.Error(t, err)
}

func TestNewRequiresClasses(t *testing.T) {
	_, err := New(&channelMeans{size: 2}, preprocess.NewTransform(2), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestAttachHeadWithoutCheckpoint(t *testing.T) {
	tr := preprocess.NewTransform(2)

	fused, err := New(&channelMeans{size: 2}, tr, []string{"a", "b", "c"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, fused.attachHead("", 0))
	assert.Nil(t, fused.Head())

	preds, err := fused.Predict(context.Background(), constantInput(tr, 1, 2, 3), 1)
	require.NoError(t, err)
	assert.Equal(t, "c", preds[0].Label)

	mismatched, err := New(&channelMeans{size: 2}, tr, []string{"a", "b"}, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, mismatched.attachHead("", 0))
}

func TestLoadCheckpoint(t *testing.T) {
	tr := preprocess.NewTransform(2)
	c, err := New(&channelMeans{size: 2}, tr, []string{"bread", "rice"}, zap.NewNop())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "food_classifier.safetensors")
	sd := checkpoint.StateDict{
		"module.fc.weight": {Shape: []int{2, 3}, Data: []float32{0, 0, 1, 1, 0, 0}},
		"module.fc.bias":   {Shape: []int{2}, Data: []float32{0, 0}},
	}
	require.NoError(t, checkpoint.Write(path, sd, nil))

	res, err := c.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.ModeBackbone, res.Mode)

	preds, err := c.Predict(context.Background(), constantInput(tr, 5, 0, 1), 1)
	require.NoError(t, err)
	assert.Equal(t, "rice", preds[0].Label)

	_, err = c.LoadCheckpoint(filepath.Join(t.TempDir(), "missing.safetensors"))
	assert.Error(t, err)
}

func TestClassifierClose(t *testing.T) {
	b := &channelMeans{size: 2}
	c, err := New(b, preprocess.NewTransform(2), []string{"a"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.True(t, b.closed)
}

func TestHeadInitIsBoundedAndSeeded(t *testing.T) {
	a := NewHead(16, 4, 7)
	b := NewHead(16, 4, 7)
	assert.Equal(t, a.Weight, b.Weight)

	bound := float32(1 / math.Sqrt(16))
	for _, w := range a.Weight {
		assert.LessOrEqual(t, w, bound)
		assert.GreaterOrEqual(t, w, -bound)
	}
}

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	md, err := LoadMetadata(write("ok.json",
		`{"input_shape":[-1,3,224,224],"output_shape":[-1,512],"image_size":224,"input_name":"input"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, md.BatchLimit())
	assert.Equal(t, "input", md.InputName)

	md, err = LoadMetadata(write("fixed.json",
		`{"input_shape":[1,3,224,224],"output_shape":[1,512],"image_size":224}`))
	require.NoError(t, err)
	assert.Equal(t, 1, md.BatchLimit())

	bad := []string{
		`{"input_shape":[1,1,224,224],"output_shape":[1,512],"image_size":224}`,
		`{"input_shape":[1,3,224,224],"output_shape":[1],"image_size":224}`,
		`{"input_shape":[1,3,224,224],"output_shape":[1,512],"image_size":112}`,
		`{"input_shape":[1,3,224,224],"output_shape":[1,512],"image_size":224,"std":[0,1,1]}`,
		`not json`,
	}
	for i, content := range bad {
		_, err := LoadMetadata(write("bad.json", content))
		assert.Error(t, err, "case %d", i)
	}
}

func TestTransformForUsesMetadataStatistics(t *testing.T) {
	tr := TransformFor(Metadata{ImageSize: 32, Mean: []float32{0.5, 0.5, 0.5}, Std: []float32{0.5, 0.5, 0.5}})
	assert.Equal(t, 32, tr.Size)
	assert.Equal(t, [3]float32{0.5, 0.5, 0.5}, tr.Mean)

	tr = TransformFor(Metadata{ImageSize: 224})
	assert.Equal(t, preprocess.ImageNetMean, tr.Mean)
}
