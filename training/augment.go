package training

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/specklab/cytonet/vision/dataset"
)

// AugmentConfig holds the random augmentation ranges. Rotation is sampled
// uniformly in ±RotationDegrees, zoom in 1±ZoomRange, and shifts as a
// fraction of the image size in ±WidthShift / ±HeightShift.
type AugmentConfig struct {
	HorizontalFlip  bool
	VerticalFlip    bool
	RotationDegrees float64
	ZoomRange       float64
	WidthShift      float64
	HeightShift     float64
}

// DefaultAugmentConfig mirrors the production training setup.
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		HorizontalFlip:  true,
		VerticalFlip:    true,
		RotationDegrees: 90,
		ZoomRange:       0.4,
		WidthShift:      0.1,
		HeightShift:     0.1,
	}
}

// AugmentedStream yields an endless sequence of randomly augmented, rescaled
// batches. The sample order reshuffles every pass over the dataset. All
// randomness comes from the stream's own seeded generator, so two streams
// with the same seed produce identical batches.
type AugmentedStream struct {
	data      *dataset.Array
	batchSize int
	cfg       AugmentConfig
	rng       *rand.Rand
	order     []int
	pos       int
}

func NewAugmentedStream(data *dataset.Array, batchSize int, cfg AugmentConfig, seed int64) (*AugmentedStream, error) {
	if data.N == 0 {
		return nil, errors.New("empty dataset")
	}
	if batchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	s := &AugmentedStream{
		data:      data,
		batchSize: batchSize,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		order:     make([]int, data.N),
	}
	for i := range s.order {
		s.order[i] = i
	}
	s.shuffle()
	return s, nil
}

func (s *AugmentedStream) shuffle() {
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	s.pos = 0
}

func (s *AugmentedStream) Next() (*Batch, error) {
	size := s.data.ImageSize()
	images := make([]float32, s.batchSize*size)
	labels := make([]int32, s.batchSize)

	for b := 0; b < s.batchSize; b++ {
		if s.pos == len(s.order) {
			s.shuffle()
		}
		idx := s.order[s.pos]
		s.pos++

		s.augmentInto(images[b*size:(b+1)*size], s.data.Image(idx))
		labels[b] = s.data.Labels[idx]
	}

	return buildBatch(images, labels, s.batchSize, s.data)
}

// augmentInto samples one augmented copy of src into dst, rescaled to [0, 1].
// The spatial transform is a single inverse-mapped affine: rotation about the
// image center, zoom, and translation, sampled nearest-neighbor with edge
// clamping. Flips are folded into the mapping.
func (s *AugmentedStream) augmentInto(dst, src []float32) {
	c := s.data.C
	h := s.data.H
	w := s.data.W
	plane := h * w

	theta := (s.rng.Float64()*2 - 1) * s.cfg.RotationDegrees * math.Pi / 180
	zoom := 1 + (s.rng.Float64()*2-1)*s.cfg.ZoomRange
	shiftX := (s.rng.Float64()*2 - 1) * s.cfg.WidthShift * float64(w)
	shiftY := (s.rng.Float64()*2 - 1) * s.cfg.HeightShift * float64(h)
	flipH := s.cfg.HorizontalFlip && s.rng.Float64() < 0.5
	flipV := s.cfg.VerticalFlip && s.rng.Float64() < 0.5

	sin, cos := math.Sincos(-theta)
	cx := float64(w-1) / 2
	cy := float64(h-1) / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy

			// Inverse transform: undo zoom, then rotation, then shift.
			dx /= zoom
			dy /= zoom
			sx := dx*cos - dy*sin + cx + shiftX
			sy := dx*sin + dy*cos + cy + shiftY

			ix := clampInt(int(math.Round(sx)), 0, w-1)
			iy := clampInt(int(math.Round(sy)), 0, h-1)

			if flipH {
				ix = w - 1 - ix
			}
			if flipV {
				iy = h - 1 - iy
			}

			srcIdx := iy*w + ix
			dstIdx := y*w + x
			for ch := 0; ch < c; ch++ {
				dst[ch*plane+dstIdx] = src[ch*plane+srcIdx] / 255.0
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
