package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/specklab/cytonet/tensor"
)

// xavierUniform fills a new parameter tensor with values drawn uniformly from
// [-bound, bound] where bound = sqrt(6 / (fanIn + fanOut)).
func xavierUniform(shape []int, fanIn, fanOut int, rng *rand.Rand) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	t, _ := tensor.NewTensor(shape, tensor.Float32, data)
	t.SetRequiresGrad(true)
	return t
}

func zeroParam(shape []int) *tensor.Tensor {
	t, _ := tensor.Zeros(shape, tensor.Float32)
	t.SetRequiresGrad(true)
	return t
}

func onesParam(size int) *tensor.Tensor {
	data := make([]float32, size)
	for i := range data {
		data[i] = 1
	}
	t, _ := tensor.NewTensor([]int{size}, tensor.Float32, data)
	t.SetRequiresGrad(true)
	return t
}

// Conv2D is a square-kernel convolution over NCHW input with bias.
type Conv2D struct {
	W *tensor.Tensor // [outC, inC, K, K]
	B *tensor.Tensor // [outC]

	Stride   int
	Pad      int
	training bool
}

func NewConv2D(inChannels, outChannels, kernelSize, stride, pad int, rng *rand.Rand) *Conv2D {
	fanIn := inChannels * kernelSize * kernelSize
	fanOut := outChannels * kernelSize * kernelSize
	return &Conv2D{
		W:        xavierUniform([]int{outChannels, inChannels, kernelSize, kernelSize}, fanIn, fanOut, rng),
		B:        zeroParam([]int{outChannels}),
		Stride:   stride,
		Pad:      pad,
		training: true,
	}
}

func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Conv2DAutograd(x, c.W, c.B, c.Stride, c.Pad)
}

func (c *Conv2D) Parameters() []*tensor.Tensor { return []*tensor.Tensor{c.W, c.B} }
func (c *Conv2D) Train()                       { c.training = true }
func (c *Conv2D) Eval()                        { c.training = false }
func (c *Conv2D) IsTraining() bool             { return c.training }

// Dense is a fully connected layer over 2D input. A non-zero WeightDecay
// marks the weight matrix for L2 regularization; the model owner collects the
// penalties into the loss.
type Dense struct {
	W *tensor.Tensor // [in, out]
	B *tensor.Tensor // [out]

	WeightDecay float64
	training    bool
}

func NewDense(inFeatures, outFeatures int, rng *rand.Rand) *Dense {
	return &Dense{
		W:        xavierUniform([]int{inFeatures, outFeatures}, inFeatures, outFeatures, rng),
		B:        zeroParam([]int{outFeatures}),
		training: true,
	}
}

func (d *Dense) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.MatMulAutograd(x, d.W)
	if err != nil {
		return nil, err
	}
	return tensor.AddBiasAutograd(out, d.B)
}

// RegularizationLoss returns the layer's L2 penalty, or nil when the layer
// carries no weight decay.
func (d *Dense) RegularizationLoss() (*tensor.Tensor, error) {
	if d.WeightDecay == 0 {
		return nil, nil
	}
	return tensor.L2PenaltyAutograd(d.W, d.WeightDecay)
}

func (d *Dense) Parameters() []*tensor.Tensor { return []*tensor.Tensor{d.W, d.B} }
func (d *Dense) Train()                       { d.training = true }
func (d *Dense) Eval()                        { d.training = false }
func (d *Dense) IsTraining() bool             { return d.training }

// BatchNorm2d normalizes each channel of NCHW input. In training mode it uses
// batch statistics and updates the running estimates; in evaluation mode, or
// when Frozen is set, it uses the running estimates. Statistics are constants
// for differentiation: gradients reach the input and gamma/beta only.
type BatchNorm2d struct {
	Gamma *tensor.Tensor // [C]
	Beta  *tensor.Tensor // [C]

	RunningMean []float32
	RunningVar  []float32
	Momentum    float64
	Eps         float64

	// Frozen forces inference statistics even in training mode.
	Frozen bool

	channels int
	training bool
}

func NewBatchNorm2d(channels int) *BatchNorm2d {
	runningVar := make([]float32, channels)
	for i := range runningVar {
		runningVar[i] = 1
	}
	return &BatchNorm2d{
		Gamma:       onesParam(channels),
		Beta:        zeroParam([]int{channels}),
		RunningMean: make([]float32, channels),
		RunningVar:  runningVar,
		Momentum:    0.1,
		Eps:         1e-5,
		channels:    channels,
		training:    true,
	}
}

func (bn *BatchNorm2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("BatchNorm2d requires 4D input, got %v", x.Shape)
	}
	if x.Shape[1] != bn.channels {
		return nil, fmt.Errorf("input has %d channels, layer has %d", x.Shape[1], bn.channels)
	}

	var mean, variance []float32
	if bn.training && !bn.Frozen {
		mean, variance = bn.batchStats(x)
		for c := 0; c < bn.channels; c++ {
			bn.RunningMean[c] = float32(1-bn.Momentum)*bn.RunningMean[c] + float32(bn.Momentum)*mean[c]
			bn.RunningVar[c] = float32(1-bn.Momentum)*bn.RunningVar[c] + float32(bn.Momentum)*variance[c]
		}
	} else {
		mean = bn.RunningMean
		variance = bn.RunningVar
	}

	return tensor.BatchNorm2DAutograd(x, bn.Gamma, bn.Beta, mean, variance, bn.Eps)
}

func (bn *BatchNorm2d) batchStats(x *tensor.Tensor) (mean, variance []float32) {
	batch := x.Shape[0]
	plane := x.Shape[2] * x.Shape[3]
	count := float32(batch * plane)
	xd := x.Float32Data()

	mean = make([]float32, bn.channels)
	variance = make([]float32, bn.channels)

	for n := 0; n < batch; n++ {
		for c := 0; c < bn.channels; c++ {
			base := (n*bn.channels + c) * plane
			for i := 0; i < plane; i++ {
				mean[c] += xd[base+i]
			}
		}
	}
	for c := range mean {
		mean[c] /= count
	}

	for n := 0; n < batch; n++ {
		for c := 0; c < bn.channels; c++ {
			base := (n*bn.channels + c) * plane
			for i := 0; i < plane; i++ {
				d := xd[base+i] - mean[c]
				variance[c] += d * d
			}
		}
	}
	for c := range variance {
		variance[c] /= count
	}
	return mean, variance
}

func (bn *BatchNorm2d) Parameters() []*tensor.Tensor { return []*tensor.Tensor{bn.Gamma, bn.Beta} }
func (bn *BatchNorm2d) Train()                       { bn.training = true }
func (bn *BatchNorm2d) Eval()                        { bn.training = false }
func (bn *BatchNorm2d) IsTraining() bool             { return bn.training }

// LeakyReLU applies a leaky rectifier element-wise.
type LeakyReLU struct {
	Slope    float64
	training bool
}

func NewLeakyReLU(slope float64) *LeakyReLU {
	return &LeakyReLU{Slope: slope, training: true}
}

func (l *LeakyReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.LeakyReLUAutograd(x, l.Slope)
}

func (l *LeakyReLU) Parameters() []*tensor.Tensor { return nil }
func (l *LeakyReLU) Train()                       { l.training = true }
func (l *LeakyReLU) Eval()                        { l.training = false }
func (l *LeakyReLU) IsTraining() bool             { return l.training }

// AvgPool2d averages non-overlapping square windows.
type AvgPool2d struct {
	Pool     int
	training bool
}

func NewAvgPool2d(pool int) *AvgPool2d {
	return &AvgPool2d{Pool: pool, training: true}
}

func (p *AvgPool2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.AvgPool2DAutograd(x, p.Pool)
}

func (p *AvgPool2d) Parameters() []*tensor.Tensor { return nil }
func (p *AvgPool2d) Train()                       { p.training = true }
func (p *AvgPool2d) Eval()                        { p.training = false }
func (p *AvgPool2d) IsTraining() bool             { return p.training }

// GlobalAvgPool reduces NCHW input to [batch, channels].
type GlobalAvgPool struct {
	training bool
}

func NewGlobalAvgPool() *GlobalAvgPool {
	return &GlobalAvgPool{training: true}
}

func (p *GlobalAvgPool) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.GlobalAvgPool2DAutograd(x)
}

func (p *GlobalAvgPool) Parameters() []*tensor.Tensor { return nil }
func (p *GlobalAvgPool) Train()                       { p.training = true }
func (p *GlobalAvgPool) Eval()                        { p.training = false }
func (p *GlobalAvgPool) IsTraining() bool             { return p.training }

// Dropout zeroes activations with probability Rate during training and is the
// identity in evaluation mode.
type Dropout struct {
	Rate     float64
	rng      *rand.Rand
	training bool
}

func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng, training: true}
}

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.Rate == 0 {
		return x, nil
	}
	return tensor.DropoutAutograd(x, d.Rate, d.rng)
}

func (d *Dropout) Parameters() []*tensor.Tensor { return nil }
func (d *Dropout) Train()                       { d.training = true }
func (d *Dropout) Eval()                        { d.training = false }
func (d *Dropout) IsTraining() bool             { return d.training }

// Softmax normalizes 2D input row-wise into probabilities.
type Softmax struct {
	training bool
}

func NewSoftmax() *Softmax {
	return &Softmax{training: true}
}

func (s *Softmax) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.SoftmaxAutograd(x)
}

func (s *Softmax) Parameters() []*tensor.Tensor { return nil }
func (s *Softmax) Train()                       { s.training = true }
func (s *Softmax) Eval()                        { s.training = false }
func (s *Softmax) IsTraining() bool             { return s.training }
