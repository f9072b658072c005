package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// addOp implements element-wise addition of two same-shape tensors.
type addOp struct {
	a, b *Tensor
}

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	gb, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// AddAutograd adds two tensors of identical shape.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("AddAutograd requires Float32 tensors")
	}
	if !shapesEqual(a.Shape, b.Shape) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}

	ad := a.Float32Data()
	bd := b.Float32Data()
	out := make([]float32, a.NumElems)
	for i := range out {
		out[i] = ad[i] + bd[i]
	}
	return newResult(a.Shape, out, &addOp{a: a, b: b})
}

// scaleOp multiplies a tensor by a constant.
type scaleOp struct {
	x *Tensor
	s float32
}

func (op *scaleOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *scaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gd := gradOut.Float32Data()
	gx := make([]float32, len(gd))
	for i := range gd {
		gx[i] = gd[i] * op.s
	}
	g, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// ScaleAutograd multiplies every element of x by s.
func ScaleAutograd(x *Tensor, s float64) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("ScaleAutograd requires a Float32 tensor")
	}
	xd := x.Float32Data()
	out := make([]float32, x.NumElems)
	for i := range out {
		out[i] = xd[i] * float32(s)
	}
	return newResult(x.Shape, out, &scaleOp{x: x, s: float32(s)})
}

// sumOp reduces a tensor to a one-element total.
type sumOp struct {
	x *Tensor
}

func (op *sumOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *sumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := gradOut.Float32Data()[0]
	gx := make([]float32, op.x.NumElems)
	for i := range gx {
		gx[i] = g
	}
	gt, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gt}, nil
}

// SumAutograd returns the sum of all elements as a one-element tensor.
func SumAutograd(x *Tensor) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("SumAutograd requires a Float32 tensor")
	}
	var sum float32
	for _, v := range x.Float32Data() {
		sum += v
	}
	return newResult([]int{1}, []float32{sum}, &sumOp{x: x})
}

// matMulOp implements x @ w for 2D tensors.
type matMulOp struct {
	x, w *Tensor
}

func (op *matMulOp) Inputs() []*Tensor { return []*Tensor{op.x, op.w} }

func (op *matMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rows := op.x.Shape[0]
	inner := op.x.Shape[1]
	cols := op.w.Shape[1]

	xd := op.x.Float32Data()
	wd := op.w.Float32Data()
	gd := gradOut.Float32Data()

	// gradX = gradOut @ w^T
	gx := make([]float32, rows*inner)
	for i := 0; i < rows; i++ {
		for k := 0; k < inner; k++ {
			var sum float32
			for j := 0; j < cols; j++ {
				sum += gd[i*cols+j] * wd[k*cols+j]
			}
			gx[i*inner+k] = sum
		}
	}

	// gradW = x^T @ gradOut
	gw := make([]float32, inner*cols)
	for k := 0; k < inner; k++ {
		for j := 0; j < cols; j++ {
			var sum float32
			for i := 0; i < rows; i++ {
				sum += xd[i*inner+k] * gd[i*cols+j]
			}
			gw[k*cols+j] = sum
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
	return []*Tensor{gxT, gwT}, nil
}

// MatMulAutograd multiplies x [rows, inner] by w [inner, cols].
func MatMulAutograd(x, w *Tensor) (*Tensor, error) {
	if len(x.Shape) != 2 || len(w.Shape) != 2 {
		return nil, fmt.Errorf("MatMulAutograd requires 2D tensors, got %v and %v", x.Shape, w.Shape)
	}
	if x.Shape[1] != w.Shape[0] {
		return nil, fmt.Errorf("inner dimension mismatch: %v vs %v", x.Shape, w.Shape)
	}

	rows := x.Shape[0]
	inner := x.Shape[1]
	cols := w.Shape[1]

	xd := x.Float32Data()
	wd := w.Float32Data()
	out := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for k := 0; k < inner; k++ {
			xv := xd[i*inner+k]
			if xv == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				out[i*cols+j] += xv * wd[k*cols+j]
			}
		}
	}
	return newResult([]int{rows, cols}, out, &matMulOp{x: x, w: w})
}

// addBiasOp adds a bias row vector to every row of a 2D tensor.
type addBiasOp struct {
	x, b *Tensor
}

func (op *addBiasOp) Inputs() []*Tensor { return []*Tensor{op.x, op.b} }

func (op *addBiasOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rows := op.x.Shape[0]
	cols := op.x.Shape[1]
	gd := gradOut.Float32Data()

	gx, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}

	gb := make([]float32, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			gb[j] += gd[i*cols+j]
		}
	}
	gbT, err := NewTensor([]int{cols}, Float32, gb)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gx, gbT}, nil
}

// AddBiasAutograd adds bias b [cols] to each row of x [rows, cols].
func AddBiasAutograd(x, b *Tensor) (*Tensor, error) {
	if len(x.Shape) != 2 || len(b.Shape) != 1 {
		return nil, fmt.Errorf("AddBiasAutograd requires x 2D and b 1D, got %v and %v", x.Shape, b.Shape)
	}
	if x.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("bias size %d does not match columns %d", b.Shape[0], x.Shape[1])
	}

	rows := x.Shape[0]
	cols := x.Shape[1]
	xd := x.Float32Data()
	bd := b.Float32Data()
	out := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = xd[i*cols+j] + bd[j]
		}
	}
	return newResult(x.Shape, out, &addBiasOp{x: x, b: b})
}

// leakyReLUOp applies max(x, slope*x).
type leakyReLUOp struct {
	x     *Tensor
	slope float32
}

func (op *leakyReLUOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *leakyReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	xd := op.x.Float32Data()
	gd := gradOut.Float32Data()
	gx := make([]float32, len(gd))
	for i := range gd {
		if xd[i] > 0 {
			gx[i] = gd[i]
		} else {
			gx[i] = gd[i] * op.slope
		}
	}
	g, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// LeakyReLUAutograd applies a leaky rectifier with the given negative slope.
func LeakyReLUAutograd(x *Tensor, slope float64) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("LeakyReLUAutograd requires a Float32 tensor")
	}
	s := float32(slope)
	xd := x.Float32Data()
	out := make([]float32, x.NumElems)
	for i := range out {
		if xd[i] > 0 {
			out[i] = xd[i]
		} else {
			out[i] = xd[i] * s
		}
	}
	return newResult(x.Shape, out, &leakyReLUOp{x: x, slope: s})
}

// softmaxOp applies a row-wise softmax over a 2D tensor.
type softmaxOp struct {
	x   *Tensor
	out []float32
}

func (op *softmaxOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *softmaxOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rows := op.x.Shape[0]
	cols := op.x.Shape[1]
	gd := gradOut.Float32Data()
	gx := make([]float32, rows*cols)

	// dL/dx_i = p_i * (g_i - sum_j g_j p_j), row-wise
	for r := 0; r < rows; r++ {
		off := r * cols
		var dot float32
		for j := 0; j < cols; j++ {
			dot += gd[off+j] * op.out[off+j]
		}
		for j := 0; j < cols; j++ {
			gx[off+j] = op.out[off+j] * (gd[off+j] - dot)
		}
	}
	g, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// SoftmaxAutograd applies softmax along the last axis of a 2D tensor.
func SoftmaxAutograd(x *Tensor) (*Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("SoftmaxAutograd requires a 2D tensor, got %v", x.Shape)
	}

	rows := x.Shape[0]
	cols := x.Shape[1]
	xd := x.Float32Data()
	out := make([]float32, rows*cols)

	for r := 0; r < rows; r++ {
		off := r * cols
		maxVal := xd[off]
		for j := 1; j < cols; j++ {
			if xd[off+j] > maxVal {
				maxVal = xd[off+j]
			}
		}
		var sum float32
		for j := 0; j < cols; j++ {
			e := float32(math.Exp(float64(xd[off+j] - maxVal)))
			out[off+j] = e
			sum += e
		}
		for j := 0; j < cols; j++ {
			out[off+j] /= sum
		}
	}
	return newResult(x.Shape, out, &softmaxOp{x: x, out: out})
}

// dropoutOp zeroes elements by a fixed mask, scaling survivors by 1/keep.
type dropoutOp struct {
	x    *Tensor
	mask []float32
}

func (op *dropoutOp) Inputs() []*Tensor { return []*Tensor{op.x} }

func (op *dropoutOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gd := gradOut.Float32Data()
	gx := make([]float32, len(gd))
	for i := range gd {
		gx[i] = gd[i] * op.mask[i]
	}
	g, err := NewTensor(op.x.Shape, Float32, gx)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// DropoutAutograd randomly zeroes elements with probability rate, scaling the
// survivors by 1/(1-rate) so the expected activation is unchanged.
func DropoutAutograd(x *Tensor, rate float64, rng *rand.Rand) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("DropoutAutograd requires a Float32 tensor")
	}
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate %f out of range [0, 1)", rate)
	}

	keep := float32(1.0 - rate)
	xd := x.Float32Data()
	out := make([]float32, x.NumElems)
	mask := make([]float32, x.NumElems)
	for i := range out {
		if rng.Float64() >= rate {
			mask[i] = 1.0 / keep
			out[i] = xd[i] * mask[i]
		}
	}
	return newResult(x.Shape, out, &dropoutOp{x: x, mask: mask})
}
