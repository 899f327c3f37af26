package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes the exported backbone graph.
type Metadata struct {
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
	InputName   string  `json:"input_name,omitempty"`
	OutputName  string  `json:"output_name,omitempty"`
	// Optional per-channel normalization; ImageNet statistics when empty.
	Mean []float32 `json:"mean,omitempty"`
	Std  []float32 `json:"std,omitempty"`
}

// LoadMetadata reads and validates a metadata file.
func LoadMetadata(path string) (Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := metadata.validate(); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	return metadata, nil
}

func (m Metadata) validate() error {
	if len(m.InputShape) != 4 || m.InputShape[1] != 3 {
		return fmt.Errorf("input_shape must be [batch, 3, height, width], got %v", m.InputShape)
	}
	if len(m.OutputShape) != 2 || m.OutputShape[1] <= 0 {
		return fmt.Errorf("output_shape must be [batch, features], got %v", m.OutputShape)
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("image_size must be positive, got %d", m.ImageSize)
	}
	if int64(m.ImageSize) != m.InputShape[2] || int64(m.ImageSize) != m.InputShape[3] {
		return fmt.Errorf("image_size %d disagrees with input_shape %v", m.ImageSize, m.InputShape)
	}
	if (len(m.Mean) != 0 && len(m.Mean) != 3) || (len(m.Std) != 0 && len(m.Std) != 3) {
		return fmt.Errorf("mean and std must have 3 channels")
	}
	for _, s := range m.Std {
		if s == 0 {
			return fmt.Errorf("std must be non-zero")
		}
	}
	return nil
}

// BatchLimit is the fixed batch dimension of the graph, or 0 when the graph
// accepts any batch size.
func (m Metadata) BatchLimit() int {
	if m.InputShape[0] > 0 {
		return int(m.InputShape[0])
	}
	return 0
}

// Prediction is one ranked label. Confidence is a percentage.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}
