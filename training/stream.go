package training

import (
	"github.com/pkg/errors"

	"github.com/specklab/cytonet/tensor"
	"github.com/specklab/cytonet/vision/dataset"
)

// Batch pairs an image tensor [batch, C, H, W] with its label tensor [batch].
type Batch struct {
	Images *tensor.Tensor
	Labels *tensor.Tensor
}

// BatchStream is a pull-based batch source. Streams never end on their own:
// augmented streams are infinite and evaluation streams wrap around, so the
// consumer decides how many batches make an epoch. A stream cannot be rewound;
// construct a new one instead.
type BatchStream interface {
	Next() (*Batch, error)
}

// EvalStream yields rescaled batches in dataset order, wrapping around at the
// end. No augmentation is applied.
type EvalStream struct {
	data      *dataset.Array
	batchSize int
	pos       int
}

func NewEvalStream(data *dataset.Array, batchSize int) (*EvalStream, error) {
	if data.N == 0 {
		return nil, errors.New("empty dataset")
	}
	if batchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	return &EvalStream{data: data, batchSize: batchSize}, nil
}

func (s *EvalStream) Next() (*Batch, error) {
	size := s.data.ImageSize()
	images := make([]float32, s.batchSize*size)
	labels := make([]int32, s.batchSize)

	for b := 0; b < s.batchSize; b++ {
		src := s.data.Image(s.pos)
		dst := images[b*size : (b+1)*size]
		for i, v := range src {
			dst[i] = v / 255.0
		}
		labels[b] = s.data.Labels[s.pos]
		s.pos = (s.pos + 1) % s.data.N
	}

	return buildBatch(images, labels, s.batchSize, s.data)
}

func buildBatch(images []float32, labels []int32, batchSize int, data *dataset.Array) (*Batch, error) {
	imgT, err := tensor.NewTensor([]int{batchSize, data.C, data.H, data.W}, tensor.Float32, images)
	if err != nil {
		return nil, errors.Wrap(err, "building image tensor")
	}
	labelT, err := tensor.NewTensor([]int{batchSize}, tensor.Int32, labels)
	if err != nil {
		return nil, errors.Wrap(err, "building label tensor")
	}
	return &Batch{Images: imgT, Labels: labelT}, nil
}

// MultiBatch carries one image tensor and the label tensor repeated once per
// model output.
type MultiBatch struct {
	Images *tensor.Tensor
	Labels []*tensor.Tensor
}

// MultiOutputStream adapts a single-label stream for a model with several
// output heads sharing the same target: each upstream batch is emitted with
// its label tensor duplicated Outputs times. Only the current upstream batch
// is held, so memory use is constant in stream length.
type MultiOutputStream struct {
	Source  BatchStream
	Outputs int
}

func NewMultiOutputStream(source BatchStream, outputs int) (*MultiOutputStream, error) {
	if outputs < 1 {
		return nil, errors.Errorf("invalid output count %d", outputs)
	}
	return &MultiOutputStream{Source: source, Outputs: outputs}, nil
}

func (s *MultiOutputStream) Next() (*MultiBatch, error) {
	batch, err := s.Source.Next()
	if err != nil {
		return nil, err
	}
	labels := make([]*tensor.Tensor, s.Outputs)
	for i := range labels {
		labels[i] = batch.Labels
	}
	return &MultiBatch{Images: batch.Images, Labels: labels}, nil
}
