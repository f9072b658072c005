package tensor

import (
	"fmt"
)

// conv2DOp implements a 2D cross-correlation over NCHW input.
type conv2DOp struct {
	x, w, b *Tensor
	stride  int
	pad     int
}

func (op *conv2DOp) Inputs() []*Tensor {
	if op.b != nil {
		return []*Tensor{op.x, op.w, op.b}
	}
	return []*Tensor{op.x, op.w}
}

func (op *conv2DOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	batch := op.x.Shape[0]
	inC := op.x.Shape[1]
	inH := op.x.Shape[2]
	inW := op.x.Shape[3]
	outC := op.w.Shape[0]
	k := op.w.Shape[2]
	outH := gradOut.Shape[2]
	outW := gradOut.Shape[3]

	xd := op.x.Float32Data()
	wd := op.w.Float32Data()
	gd := gradOut.Float32Data()

	gx := make([]float32, op.x.NumElems)
	gw := make([]float32, op.w.NumElems)
	var gb []float32
	if op.b != nil {
		gb = make([]float32, outC)
	}

	for n := 0; n < batch; n++ {
		for f := 0; f < outC; f++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					g := gd[((n*outC+f)*outH+oh)*outW+ow]
					if gb != nil {
						gb[f] += g
					}
					if g == 0 {
						continue
					}
					hBase := oh*op.stride - op.pad
					wBase := ow*op.stride - op.pad
					for c := 0; c < inC; c++ {
						for kh := 0; kh < k; kh++ {
							ih := hBase + kh
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < k; kw++ {
								iw := wBase + kw
								if iw < 0 || iw >= inW {
									continue
								}
								xIdx := ((n*inC+c)*inH+ih)*inW + iw
								wIdx := ((f*inC+c)*k+kh)*k + kw
								gx[xIdx] += g * wd[wIdx]
								gw[wIdx] += g * xd[xIdx]
							}
						}
					}
				}
			}
		}
	}

	gxT, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	gwT, err := NewTensor(op.w.Shape, Float32, gw)
	if err != nil {
		return nil, err
	}
	if op.b == nil {
		return []*Tensor{gxT, gwT}, nil
	}
	gbT, err := NewTensor(op.b.Shape, Float32, gb)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gxT, gwT, gbT}, nil
}

// Conv2DAutograd convolves x [batch, inC, H, W] with w [outC, inC, K, K] and
// an optional bias b [outC] using the given stride and symmetric zero padding.
func Conv2DAutograd(x, w, b *Tensor, stride, pad int) (*Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("Conv2DAutograd requires 4D input, got %v", x.Shape)
	}
	if len(w.Shape) != 4 || w.Shape[2] != w.Shape[3] {
		return nil, fmt.Errorf("Conv2DAutograd requires square [outC, inC, K, K] weights, got %v", w.Shape)
	}
	if x.Shape[1] != w.Shape[1] {
		return nil, fmt.Errorf("input channels %d do not match weight channels %d", x.Shape[1], w.Shape[1])
	}
	if stride < 1 {
		return nil, fmt.Errorf("invalid stride %d", stride)
	}
	if b != nil && (len(b.Shape) != 1 || b.Shape[0] != w.Shape[0]) {
		return nil, fmt.Errorf("bias shape %v does not match %d output channels", b.Shape, w.Shape[0])
	}

	batch := x.Shape[0]
	inC := x.Shape[1]
	inH := x.Shape[2]
	inW := x.Shape[3]
	outC := w.Shape[0]
	k := w.Shape[2]

	outH := (inH+2*pad-k)/stride + 1
	outW := (inW+2*pad-k)/stride + 1
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("kernel %d with stride %d and pad %d does not fit input %dx%d", k, stride, pad, inH, inW)
	}

	xd := x.Float32Data()
	wd := w.Float32Data()
	var bd []float32
	if b != nil {
		bd = b.Float32Data()
	}

	out := make([]float32, batch*outC*outH*outW)
	for n := 0; n < batch; n++ {
		for f := 0; f < outC; f++ {
			var bias float32
			if bd != nil {
				bias = bd[f]
			}
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := bias
					hBase := oh*stride - pad
					wBase := ow*stride - pad
					for c := 0; c < inC; c++ {
						for kh := 0; kh < k; kh++ {
							ih := hBase + kh
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < k; kw++ {
								iw := wBase + kw
								if iw < 0 || iw >= inW {
									continue
								}
								sum += xd[((n*inC+c)*inH+ih)*inW+iw] * wd[((f*inC+c)*k+kh)*k+kw]
							}
						}
					}
					out[((n*outC+f)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}

	return newResult([]int{batch, outC, outH, outW}, out, &conv2DOp{x: x, w: w, b: b, stride: stride, pad: pad})
}

// avgPool2DOp averages over non-overlapping square windows.
type avgPool2DOp struct {
	x    *Tensor
	pool int
}

func (op *avgPool2DOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *avgPool2DOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	batch := op.x.Shape[0]
	channels := op.x.Shape[1]
	inH := op.x.Shape[2]
	inW := op.x.Shape[3]
	outH := gradOut.Shape[2]
	outW := gradOut.Shape[3]

	gd := gradOut.Float32Data()
	gx := make([]float32, op.x.NumElems)
	inv := 1.0 / float32(op.pool*op.pool)

	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					g := gd[((n*channels+c)*outH+oh)*outW+ow] * inv
					for kh := 0; kh < op.pool; kh++ {
						ih := oh*op.pool + kh
						for kw := 0; kw < op.pool; kw++ {
							iw := ow*op.pool + kw
							gx[((n*channels+c)*inH+ih)*inW+iw] += g
						}
					}
				}
			}
		}
	}

	g, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// AvgPool2DAutograd averages non-overlapping pool x pool windows of an NCHW
// tensor. Trailing rows and columns that do not fill a window are dropped.
func AvgPool2DAutograd(x *Tensor, pool int) (*Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("AvgPool2DAutograd requires 4D input, got %v", x.Shape)
	}
	if pool < 1 {
		return nil, fmt.Errorf("invalid pool size %d", pool)
	}
	inH := x.Shape[2]
	inW := x.Shape[3]
	if inH < pool || inW < pool {
		return nil, fmt.Errorf("input %dx%d smaller than pool size %d", inH, inW, pool)
	}

	batch := x.Shape[0]
	channels := x.Shape[1]
	outH := inH / pool
	outW := inW / pool

	xd := x.Float32Data()
	out := make([]float32, batch*channels*outH*outW)
	inv := 1.0 / float32(pool*pool)

	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					var sum float32
					for kh := 0; kh < pool; kh++ {
						ih := oh*pool + kh
						for kw := 0; kw < pool; kw++ {
							iw := ow*pool + kw
							sum += xd[((n*channels+c)*inH+ih)*inW+iw]
						}
					}
					out[((n*channels+c)*outH+oh)*outW+ow] = sum * inv
				}
			}
		}
	}

	return newResult([]int{batch, channels, outH, outW}, out, &avgPool2DOp{x: x, pool: pool})
}

// globalAvgPoolOp averages each channel plane down to a single value.
type globalAvgPoolOp struct {
	x *Tensor
}

func (op *globalAvgPoolOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *globalAvgPoolOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	batch := op.x.Shape[0]
	channels := op.x.Shape[1]
	plane := op.x.Shape[2] * op.x.Shape[3]

	gd := gradOut.Float32Data()
	gx := make([]float32, op.x.NumElems)
	inv := 1.0 / float32(plane)

	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			g := gd[n*channels+c] * inv
			base := (n*channels + c) * plane
			for i := 0; i < plane; i++ {
				gx[base+i] = g
			}
		}
	}

	g, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// GlobalAvgPool2DAutograd reduces [batch, C, H, W] to [batch, C] by averaging
// each channel plane.
func GlobalAvgPool2DAutograd(x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("GlobalAvgPool2DAutograd requires 4D input, got %v", x.Shape)
	}

	batch := x.Shape[0]
	channels := x.Shape[1]
	plane := x.Shape[2] * x.Shape[3]

	xd := x.Float32Data()
	out := make([]float32, batch*channels)
	inv := 1.0 / float32(plane)

	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			base := (n*channels + c) * plane
			var sum float32
			for i := 0; i < plane; i++ {
				sum += xd[base+i]
			}
			out[n*channels+c] = sum * inv
		}
	}

	return newResult([]int{batch, channels}, out, &globalAvgPoolOp{x: x})
}

// batchNorm2DOp normalizes per channel using fixed statistics. The mean and
// variance are treated as constants: gradients flow to the input and to
// gamma/beta, not through the statistics themselves.
type batchNorm2DOp struct {
	x, gamma, beta *Tensor
	xhat           []float32
	invStd         []float32
}

func (op *batchNorm2DOp) Inputs() []*Tensor { return []*Tensor{op.x, op.gamma, op.beta} }

func (op *batchNorm2DOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	batch := op.x.Shape[0]
	channels := op.x.Shape[1]
	plane := op.x.Shape[2] * op.x.Shape[3]

	gd := gradOut.Float32Data()
	gammaD := op.gamma.Float32Data()

	gx := make([]float32, op.x.NumElems)
	gGamma := make([]float32, channels)
	gBeta := make([]float32, channels)

	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			base := (n*channels + c) * plane
			scale := gammaD[c] * op.invStd[c]
			for i := 0; i < plane; i++ {
				g := gd[base+i]
				gx[base+i] = g * scale
				gGamma[c] += g * op.xhat[base+i]
				gBeta[c] += g
			}
		}
	}

	gxT, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	gGammaT, err := NewTensor(op.gamma.Shape, Float32, gGamma)
	if err != nil {
		return nil, err
	}
	gBetaT, err := NewTensor(op.beta.Shape, Float32, gBeta)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gxT, gGammaT, gBetaT}, nil
}

// BatchNorm2DAutograd normalizes each channel of x [batch, C, H, W] with the
// given per-channel mean and variance, then applies gamma and beta. The
// statistics are constants for differentiation purposes.
func BatchNorm2DAutograd(x, gamma, beta *Tensor, mean, variance []float32, eps float64) (*Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("BatchNorm2DAutograd requires 4D input, got %v", x.Shape)
	}
	channels := x.Shape[1]
	if len(gamma.Shape) != 1 || gamma.Shape[0] != channels {
		return nil, fmt.Errorf("gamma shape %v does not match %d channels", gamma.Shape, channels)
	}
	if len(beta.Shape) != 1 || beta.Shape[0] != channels {
		return nil, fmt.Errorf("beta shape %v does not match %d channels", beta.Shape, channels)
	}
	if len(mean) != channels || len(variance) != channels {
		return nil, fmt.Errorf("statistics length %d/%d does not match %d channels", len(mean), len(variance), channels)
	}

	batch := x.Shape[0]
	plane := x.Shape[2] * x.Shape[3]

	xd := x.Float32Data()
	gammaD := gamma.Float32Data()
	betaD := beta.Float32Data()

	invStd := make([]float32, channels)
	for c := 0; c < channels; c++ {
		invStd[c] = 1.0 / sqrt32(variance[c]+float32(eps))
	}

	out := make([]float32, x.NumElems)
	xhat := make([]float32, x.NumElems)
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			base := (n*channels + c) * plane
			for i := 0; i < plane; i++ {
				h := (xd[base+i] - mean[c]) * invStd[c]
				xhat[base+i] = h
				out[base+i] = gammaD[c]*h + betaD[c]
			}
		}
	}

	return newResult(x.Shape, out, &batchNorm2DOp{
		x:      x,
		gamma:  gamma,
		beta:   beta,
		xhat:   xhat,
		invStd: invStd,
	})
}
