package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Backbone extracts per-image outputs from a batch of CHW tensors.
type Backbone interface {
	// Features runs n images laid out back to back in batch and returns
	// n*Dim() values.
	Features(ctx context.Context, batch []float32, n int) ([]float32, error)
	Dim() int
	Close() error
}

// ortEnv guards process-wide ONNX Runtime initialization.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// DestroyRuntime tears down ONNX Runtime. Call once at process exit.
func DestroyRuntime() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// ONNXBackbone runs an exported backbone graph through ONNX Runtime.
type ONNXBackbone struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	imageSize  int64
	dim        int64
	batchLimit int
}

// NewONNXBackbone loads the graph at modelPath. Tensor names missing from
// metadata are taken from the graph's first input and output.
func NewONNXBackbone(modelPath, libPath string, metadata Metadata) (*ONNXBackbone, error) {
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputName, outputName := metadata.InputName, metadata.OutputName
	if inputName == "" || outputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read model info: %w", err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, fmt.Errorf("model %s has no inputs or outputs", modelPath)
		}
		if inputName == "" {
			inputName = inputs[0].Name
		}
		if outputName == "" {
			outputName = outputs[0].Name
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXBackbone{
		session:    session,
		inputName:  inputName,
		outputName: outputName,
		imageSize:  int64(metadata.ImageSize),
		dim:        metadata.OutputShape[1],
		batchLimit: metadata.BatchLimit(),
	}, nil
}

// Dim is the number of output values per image.
func (b *ONNXBackbone) Dim() int {
	return int(b.dim)
}

// Features runs the batch, split into chunks when the graph has a fixed
// batch dimension.
func (b *ONNXBackbone) Features(ctx context.Context, batch []float32, n int) ([]float32, error) {
	per := int(3 * b.imageSize * b.imageSize)
	if len(batch) != n*per {
		return nil, fmt.Errorf("expected %d values for %d images, got %d", n*per, n, len(batch))
	}

	chunk := n
	if b.batchLimit > 0 {
		chunk = b.batchLimit
	}
	out := make([]float32, 0, n*int(b.dim))
	for start := 0; start < n; start += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+chunk, n)
		size := end - start
		input := batch[start*per : end*per]
		// A fixed-size graph still needs a full batch; pad the tail with zeros.
		if b.batchLimit > 0 && size < b.batchLimit {
			padded := make([]float32, b.batchLimit*per)
			copy(padded, input)
			input = padded
		}
		res, err := b.run(input, int64(len(input)/per))
		if err != nil {
			return nil, err
		}
		out = append(out, res[:size*int(b.dim)]...)
	}
	return out, nil
}

func (b *ONNXBackbone) run(input []float32, batchSize int64) ([]float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(batchSize, 3, b.imageSize, b.imageSize), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batchSize, b.dim))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := b.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	src := outputTensor.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

// Close releases the session.
func (b *ONNXBackbone) Close() error {
	if b.session != nil {
		return b.session.Destroy()
	}
	return nil
}
