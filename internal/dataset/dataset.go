// Package dataset reads class-per-directory image trees and batches them
// into tensors for training.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoSamples is returned when a class directory holds no images.
var ErrNoSamples = errors.New("dataset: no samples")

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// Sample is one labeled image file.
type Sample struct {
	Path  string
	Label int
}

// ImageFolder is a dataset laid out as root/<class>/<image>. Classes are the
// sorted subdirectory names and labels index into them.
type ImageFolder struct {
	Root    string
	Classes []string
	Samples []Sample
}

// NewImageFolder scans root. Hidden entries are skipped and every class
// must contain at least one image.
func NewImageFolder(root string) (*ImageFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}

	ds := &ImageFolder{Root: root}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ds.Classes = append(ds.Classes, e.Name())
		}
	}
	if len(ds.Classes) == 0 {
		return nil, fmt.Errorf("dataset: no class directories in %s", root)
	}
	sort.Strings(ds.Classes)

	for label, class := range ds.Classes {
		var files []string
		err := filepath.WalkDir(filepath.Join(root, class), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && path != filepath.Join(root, class) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && imageExts[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("dataset: scan %s: %w", class, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w for class %q in %s", ErrNoSamples, class, root)
		}
		sort.Strings(files)
		for _, f := range files {
			ds.Samples = append(ds.Samples, Sample{Path: f, Label: label})
		}
	}
	return ds, nil
}

// Len is the number of samples.
func (d *ImageFolder) Len() int {
	return len(d.Samples)
}
