// Package labels loads and saves the class-index-to-name mapping.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned when a label file holds no classes.
var ErrEmpty = errors.New("labels: no classes")

// Load reads a label map from path. The file is either a list, where the
// index is the position, or an object keyed by integer strings. Files with a
// .yaml or .yml extension are parsed as YAML, everything else as JSON.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}

	var raw any
	if isYAML(path) {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("labels: parse %s: %w", path, err)
	}

	classes, err := fromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("labels: %s: %w", path, err)
	}
	return classes, nil
}

// Save writes classes to path in list form.
func Save(path string, classes []string) error {
	if len(classes) == 0 {
		return ErrEmpty
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(classes)
	} else {
		data, err = json.Marshal(classes)
	}
	if err != nil {
		return fmt.Errorf("labels: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("labels: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func fromRaw(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []any:
		return fromList(v)
	case map[string]any:
		return fromIndexMap(v)
	case map[any]any:
		// YAML with unquoted integer keys.
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[fmt.Sprint(k)] = val
		}
		return fromIndexMap(m)
	default:
		return nil, fmt.Errorf("label map must be a list or an object, got %T", raw)
	}
}

func fromList(items []any) ([]string, error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	classes := make([]string, len(items))
	for i, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("entry %d is %T, want string", i, item)
		}
		classes[i] = name
	}
	return classes, nil
}

// fromIndexMap orders an object by the integer value of its keys. Indices
// must be exactly 0..n-1 so that model output i maps to classes[i].
func fromIndexMap(m map[string]any) ([]string, error) {
	if len(m) == 0 {
		return nil, ErrEmpty
	}
	type entry struct {
		idx  int
		name string
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("key %q is not a class index", k)
		}
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value for %q is %T, want string", k, v)
		}
		entries = append(entries, entry{idx: idx, name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	classes := make([]string, len(entries))
	for i, e := range entries {
		if e.idx != i {
			return nil, fmt.Errorf("class indices must be contiguous from 0, found %d at position %d", e.idx, i)
		}
		classes[i] = e.name
	}
	return classes, nil
}
