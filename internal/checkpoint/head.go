package checkpoint

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Head tensor names. The classifier wraps its backbone as "model", so a
// checkpoint of the full classifier carries the "model." prefix while a bare
// backbone dump does not.
const (
	ClassifierPrefix = "model.fc."
	BackbonePrefix   = "fc."

	weightName = "weight"
	biasName   = "bias"

	stateDictPrefix    = "state_dict."
	dataParallelPrefix = "module."
)

// ErrNoHeadWeights is returned when a checkpoint holds no usable head tensor.
var ErrNoHeadWeights = errors.New("checkpoint: no classifier head weights found")

// LoadMode reports which fallback branch loaded the head.
type LoadMode int

const (
	ModeDirect LoadMode = iota
	ModeBackbone
	ModePartial
)

func (m LoadMode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeBackbone:
		return "backbone"
	case ModePartial:
		return "partial"
	default:
		return fmt.Sprintf("LoadMode(%d)", int(m))
	}
}

// LoadResult describes what LoadHead copied.
type LoadResult struct {
	Mode   LoadMode
	Loaded []string
	// Ignored counts tensors outside the head, such as backbone weights.
	Ignored int
}

// HeadStateDict builds the state dictionary for a linear head under the
// classifier's names.
func HeadStateDict(weight, bias []float32, numClasses, inDim int) StateDict {
	return StateDict{
		ClassifierPrefix + weightName: {Shape: []int{numClasses, inDim}, Data: slices.Clone(weight)},
		ClassifierPrefix + biasName:   {Shape: []int{numClasses}, Data: slices.Clone(bias)},
	}
}

// LoadHead copies the linear head tensors of sd into weight
// ([numClasses*inDim], row-major) and bias ([numClasses]). It unwraps a
// "state_dict." wrapper, strips "module." prefixes and then tries, in order,
// the classifier names, the bare backbone names and finally any single
// matching tensor. Tensors that are not loaded keep their current values.
func LoadHead(sd StateDict, numClasses, inDim int, weight, bias []float32) (LoadResult, error) {
	if len(weight) != numClasses*inDim || len(bias) != numClasses {
		return LoadResult{}, fmt.Errorf("checkpoint: head buffers sized %d/%d, want %d/%d",
			len(weight), len(bias), numClasses*inDim, numClasses)
	}
	sd = normalizeKeys(sd)

	wantShapes := map[string][]int{
		weightName: {numClasses, inDim},
		biasName:   {numClasses},
	}
	dst := map[string][]float32{
		weightName: weight,
		biasName:   bias,
	}
	lookup := func(prefix, name string) (Tensor, bool) {
		t, ok := sd[prefix+name]
		if !ok || !slices.Equal(t.Shape, wantShapes[name]) {
			return Tensor{}, false
		}
		return t, true
	}

	ignored := 0
	for k := range sd {
		if !strings.HasPrefix(k, ClassifierPrefix) && !strings.HasPrefix(k, BackbonePrefix) {
			ignored++
		}
	}

	for _, c := range []struct {
		prefix string
		mode   LoadMode
	}{
		{ClassifierPrefix, ModeDirect},
		{BackbonePrefix, ModeBackbone},
	} {
		w, okW := lookup(c.prefix, weightName)
		b, okB := lookup(c.prefix, biasName)
		if okW && okB {
			copy(weight, w.Data)
			copy(bias, b.Data)
			return LoadResult{
				Mode:    c.mode,
				Loaded:  []string{c.prefix + weightName, c.prefix + biasName},
				Ignored: ignored,
			}, nil
		}
	}

	res := LoadResult{Mode: ModePartial, Ignored: ignored}
	for _, name := range []string{weightName, biasName} {
		for _, prefix := range []string{ClassifierPrefix, BackbonePrefix} {
			if t, ok := lookup(prefix, name); ok {
				copy(dst[name], t.Data)
				res.Loaded = append(res.Loaded, prefix+name)
				break
			}
		}
	}
	if len(res.Loaded) == 0 {
		return LoadResult{}, fmt.Errorf("%w (want %s{weight %v, bias %v}, have %d tensors)",
			ErrNoHeadWeights, ClassifierPrefix, wantShapes[weightName], wantShapes[biasName], len(sd))
	}
	return res, nil
}

// isHeadKey reports whether name is a head tensor under any of the
// prefixes LoadHead accepts.
func isHeadKey(name string) bool {
	name = strings.TrimPrefix(name, stateDictPrefix)
	name = strings.TrimPrefix(name, dataParallelPrefix)
	for _, prefix := range []string{ClassifierPrefix, BackbonePrefix} {
		if name == prefix+weightName || name == prefix+biasName {
			return true
		}
	}
	return false
}

func normalizeKeys(sd StateDict) StateDict {
	wrapped := len(sd) > 0
	for k := range sd {
		if !strings.HasPrefix(k, stateDictPrefix) {
			wrapped = false
			break
		}
	}

	out := make(StateDict, len(sd))
	for k, t := range sd {
		if wrapped {
			k = strings.TrimPrefix(k, stateDictPrefix)
		}
		out[strings.TrimPrefix(k, dataParallelPrefix)] = t
	}
	return out
}
