package training

import (
	"github.com/specklab/cytonet/tensor"
)

// ClassWeights maps class indices to loss weights. Classes without an entry
// weigh 1.
type ClassWeights map[int]float64

// SampleWeights expands class weights into one weight per sample. A nil or
// empty map returns nil, meaning uniform weighting.
func (cw ClassWeights) SampleWeights(labels *tensor.Tensor) []float32 {
	if len(cw) == 0 {
		return nil
	}
	ld := labels.Int32Data()
	weights := make([]float32, len(ld))
	for i, label := range ld {
		w, ok := cw[int(label)]
		if !ok {
			w = 1
		}
		weights[i] = float32(w)
	}
	return weights
}

// WeightedCrossEntropy computes sparse categorical cross-entropy over
// probability outputs, optionally weighting samples by their class.
type WeightedCrossEntropy struct {
	Weights ClassWeights
}

// Loss returns the weighted mean cross-entropy as a one-element graph tensor.
func (l WeightedCrossEntropy) Loss(probs, labels *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.SparseCrossEntropyAutograd(probs, labels, l.Weights.SampleWeights(labels))
}
