// Package checkpoint persists classifier weights as safetensors state
// dictionaries and loads them back with key-name fallbacks.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

const metadataKey = "__metadata__"

// Tensor is a float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NumElements is the product of the shape, or -1 when a dimension is
// negative or the product overflows int.
func (t Tensor) NumElements() int {
	n, err := numElements(t.Shape)
	if err != nil {
		return -1
	}
	return n
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension in shape %v", shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("shape %v overflows", shape)
		}
		n *= d
	}
	return n, nil
}

// dtypeSizes are the element widths of the safetensors dtypes. Only F32 is
// decoded; the rest are range-checked and skipped.
var dtypeSizes = map[string]int{
	"F64": 8, "F32": 4, "F16": 2, "BF16": 2,
	"I64": 8, "I32": 4, "I16": 2, "I8": 1,
	"U64": 8, "U32": 4, "U16": 2, "U8": 1,
	"BOOL": 1, "F8_E4M3": 1, "F8_E5M2": 1,
}

// StateDict maps tensor names to tensors.
type StateDict map[string]Tensor

type tensorHeader struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Write stores sd at path in safetensors format. metadata may be nil.
// Tensors are laid out in key order so identical inputs give identical files.
func Write(path string, sd StateDict, metadata map[string]string) error {
	keys := make([]string, 0, len(sd))
	for k, t := range sd {
		if t.NumElements() != len(t.Data) {
			return fmt.Errorf("checkpoint: tensor %q has %d values for shape %v", k, len(t.Data), t.Shape)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := make(map[string]any, len(sd)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	offset := 0
	for _, k := range keys {
		t := sd[k]
		size := len(t.Data) * 4
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[k] = tensorHeader{Dtype: "F32", Shape: shape, DataOffsets: [2]int{offset, offset + size}}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("checkpoint: encode header: %w", err)
	}
	// The data section starts 8-byte aligned.
	if pad := len(headerJSON) % 8; pad != 0 {
		headerJSON = append(headerJSON, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	buf := make([]byte, 8+len(headerJSON)+offset)
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(headerJSON)))
	copy(buf[8:], headerJSON)
	pos := 8 + len(headerJSON)
	for _, k := range keys {
		for _, v := range sd[k].Data {
			binary.LittleEndian.PutUint32(buf[pos:pos+4], math.Float32bits(v))
			pos += 4
		}
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Read loads every F32 tensor in the safetensors file at path along with its
// string metadata. Tensors of other dtypes are skipped unless they are head
// tensors, which must be F32.
func Read(path string) (StateDict, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: %w", err)
	}
	return Decode(data)
}

// Decode parses a safetensors payload.
func Decode(data []byte) (StateDict, map[string]string, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("checkpoint: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data))-8 < headerLen {
		return nil, nil, fmt.Errorf("checkpoint: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, nil, fmt.Errorf("checkpoint: failed to parse header: %w", err)
	}

	var metadata map[string]string
	if raw, ok := header[metadataKey]; ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, nil, fmt.Errorf("checkpoint: failed to parse metadata: %w", err)
		}
		delete(header, metadataKey)
	}

	body := data[8+headerLen:]
	sd := make(StateDict, len(header))
	for name, raw := range header {
		var meta tensorHeader
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, nil, fmt.Errorf("checkpoint: tensor %q: %w", name, err)
		}
		numel, err := numElements(meta.Shape)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint: tensor %q: %w", name, err)
		}
		start, end := meta.DataOffsets[0], meta.DataOffsets[1]
		if start < 0 || end < start || end > len(body) {
			return nil, nil, fmt.Errorf("checkpoint: tensor %q: data range [%d:%d] exceeds data size %d",
				name, start, end, len(body))
		}
		width, known := dtypeSizes[meta.Dtype]
		if known && (numel > math.MaxInt/width || end-start != numel*width) {
			return nil, nil, fmt.Errorf("checkpoint: tensor %q: data size %d doesn't match %s shape %v",
				name, end-start, meta.Dtype, meta.Shape)
		}
		if meta.Dtype != "F32" {
			if isHeadKey(name) {
				return nil, nil, fmt.Errorf("checkpoint: tensor %q: expected dtype F32, got %s", name, meta.Dtype)
			}
			// Backbone buffers such as num_batches_tracked (I64).
			continue
		}

		t := Tensor{Shape: meta.Shape, Data: make([]float32, numel)}
		for i := range t.Data {
			bits := binary.LittleEndian.Uint32(body[start+i*4 : start+i*4+4])
			t.Data[i] = math.Float32frombits(bits)
		}
		sd[name] = t
	}
	return sd, metadata, nil
}
