package tensor

import (
	"fmt"
	"math"
)

const probEpsilon = 1e-10

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

// sparseCrossEntropyOp computes the weighted mean negative log likelihood of
// integer labels under row-wise probability distributions.
type sparseCrossEntropyOp struct {
	probs   *Tensor
	labels  []int32
	weights []float32
	sumW    float32
}

func (op *sparseCrossEntropyOp) Inputs() []*Tensor { return []*Tensor{op.probs} }

func (op *sparseCrossEntropyOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rows := op.probs.Shape[0]
	cols := op.probs.Shape[1]
	pd := op.probs.Float32Data()
	g := gradOut.Float32Data()[0]

	gp := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		y := int(op.labels[r])
		p := pd[r*cols+y]
		if p < probEpsilon {
			p = probEpsilon
		}
		gp[r*cols+y] = -g * op.weights[r] / (p * op.sumW)
	}

	gt, err := NewTensor(op.probs.Shape, Float32, gp)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gt}, nil
}

// SparseCrossEntropyAutograd computes the weighted mean of -log(probs[i, y_i])
// over the batch. probs is [batch, classes] of probabilities (post-softmax),
// labels is [batch] Int32. A nil sampleWeights means uniform weights. The
// result is a one-element tensor: sum_i w_i * -log(p_i) / sum_i w_i.
func SparseCrossEntropyAutograd(probs, labels *Tensor, sampleWeights []float32) (*Tensor, error) {
	if len(probs.Shape) != 2 {
		return nil, fmt.Errorf("SparseCrossEntropyAutograd requires 2D probabilities, got %v", probs.Shape)
	}
	if labels.DType != Int32 || len(labels.Shape) != 1 {
		return nil, fmt.Errorf("SparseCrossEntropyAutograd requires 1D Int32 labels, got %v %s", labels.Shape, labels.DType)
	}
	rows := probs.Shape[0]
	cols := probs.Shape[1]
	if labels.Shape[0] != rows {
		return nil, fmt.Errorf("label count %d does not match batch size %d", labels.Shape[0], rows)
	}

	ld := labels.Int32Data()
	weights := make([]float32, rows)
	if sampleWeights == nil {
		for i := range weights {
			weights[i] = 1
		}
	} else {
		if len(sampleWeights) != rows {
			return nil, fmt.Errorf("sample weight count %d does not match batch size %d", len(sampleWeights), rows)
		}
		copy(weights, sampleWeights)
	}

	pd := probs.Float32Data()
	var loss, sumW float32
	for r := 0; r < rows; r++ {
		y := int(ld[r])
		if y < 0 || y >= cols {
			return nil, fmt.Errorf("label %d out of range [0, %d)", y, cols)
		}
		p := pd[r*cols+y]
		if p < probEpsilon {
			p = probEpsilon
		}
		loss += weights[r] * float32(-math.Log(float64(p)))
		sumW += weights[r]
	}
	if sumW == 0 {
		return nil, fmt.Errorf("sample weights sum to zero")
	}
	loss /= sumW

	return newResult([]int{1}, []float32{loss}, &sparseCrossEntropyOp{
		probs:   probs,
		labels:  cloneInt32(ld),
		weights: weights,
		sumW:    sumW,
	})
}

func cloneInt32(s []int32) []int32 {
	out := make([]int32, len(s))
	copy(out, s)
	return out
}

// l2PenaltyOp computes lambda * sum(w^2).
type l2PenaltyOp struct {
	w      *Tensor
	lambda float32
}

func (op *l2PenaltyOp) Inputs() []*Tensor { return []*Tensor{op.w} }

func (op *l2PenaltyOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	wd := op.w.Float32Data()
	g := gradOut.Float32Data()[0]
	gw := make([]float32, len(wd))
	for i := range wd {
		gw[i] = g * 2 * op.lambda * wd[i]
	}
	gt, err := NewTensor(op.w.Shape, Float32, gw)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gt}, nil
}

// L2PenaltyAutograd returns lambda * sum(w^2) as a one-element tensor.
func L2PenaltyAutograd(w *Tensor, lambda float64) (*Tensor, error) {
	if w.DType != Float32 {
		return nil, fmt.Errorf("L2PenaltyAutograd requires a Float32 tensor")
	}
	wd := w.Float32Data()
	var sum float32
	for _, v := range wd {
		sum += v * v
	}
	l := float32(lambda)
	return newResult([]int{1}, []float32{l * sum}, &l2PenaltyOp{w: w, lambda: l})
}
