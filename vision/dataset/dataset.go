// Package dataset loads a folder of class-labeled images into flat in-memory
// arrays ready for batching.
package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/specklab/cytonet/vision/preprocessing"
)

// Array holds a whole dataset in memory: images as one contiguous CHW-major
// float32 block and one int32 label per image.
type Array struct {
	Images []float32 // N * C * H * W
	Labels []int32
	N      int
	C      int
	H      int
	W      int
}

// ImageSize returns the element count of one image.
func (a *Array) ImageSize() int {
	return a.C * a.H * a.W
}

// Image returns a view of the i-th image.
func (a *Array) Image(i int) []float32 {
	size := a.ImageSize()
	return a.Images[i*size : (i+1)*size]
}

// Subset copies the selected indices into a new array, preserving order.
func (a *Array) Subset(indices []int) (*Array, error) {
	size := a.ImageSize()
	out := &Array{
		Images: make([]float32, len(indices)*size),
		Labels: make([]int32, len(indices)),
		N:      len(indices),
		C:      a.C,
		H:      a.H,
		W:      a.W,
	}
	for j, i := range indices {
		if i < 0 || i >= a.N {
			return nil, errors.Errorf("index %d out of range [0, %d)", i, a.N)
		}
		copy(out.Images[j*size:(j+1)*size], a.Image(i))
		out.Labels[j] = a.Labels[i]
	}
	return out, nil
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// LoadFolder reads root/<class>/<image> for every class in the mapping and
// returns the images in class-name order, files sorted within each class. A
// missing class directory or an undecodable image is a fatal error.
func LoadFolder(root string, opts preprocessing.Options, classes map[string]int) (*Array, error) {
	if len(classes) == 0 {
		return nil, errors.New("empty class mapping")
	}
	channels, err := preprocessing.Channels(opts.Mode)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)

	size := channels * opts.Size * opts.Size
	arr := &Array{C: channels, H: opts.Size, W: opts.Size}

	for _, name := range names {
		dir := filepath.Join(root, name)
		files, err := listImages(dir)
		if err != nil {
			return nil, err
		}
		label := int32(classes[name])
		for _, file := range files {
			img, err := preprocessing.DecodeFile(file)
			if err != nil {
				return nil, err
			}
			pixels, err := preprocessing.ToCHW(img, opts)
			if err != nil {
				return nil, errors.Wrapf(err, "converting %s", file)
			}
			arr.Images = append(arr.Images, pixels...)
			arr.Labels = append(arr.Labels, label)
			arr.N++
		}
		log.WithFields(log.Fields{
			"class":  name,
			"label":  label,
			"images": len(files),
		}).Debug("loaded class directory")
	}

	if arr.N == 0 {
		return nil, errors.Errorf("no images found under %s", root)
	}
	if len(arr.Images) != arr.N*size {
		return nil, errors.Errorf("inconsistent image data: %d values for %d images", len(arr.Images), arr.N)
	}
	return arr, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading class directory %s", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
