// Package training contains the data plumbing and control loop for the
// restart-supervised classifier: stratified splitting, batch streams,
// weighted losses, optimizers, epoch hooks, and the trainer and cycle that
// drive attempts until one is accepted.
package training

import (
	"math"

	"github.com/pkg/errors"
)

// StratifiedSplit partitions dataset indices into train and validation sets
// with the same per-label proportions. Indices are grouped by label in first
// appearance order; within each label the first floor(trainFrac*count) go to
// train and the remainder to validation. No shuffling happens, so the split
// is deterministic for a given label array.
//
// A label whose stratum is too small to contribute training indices is
// allowed; the caller decides whether a degenerate fold is usable.
func StratifiedSplit(labels []int32, trainFrac float64) (train, val []int, err error) {
	if len(labels) == 0 {
		return nil, nil, errors.New("cannot split an empty label array")
	}
	if trainFrac < 0 || trainFrac > 1 {
		return nil, nil, errors.Errorf("train fraction %f out of range [0, 1]", trainFrac)
	}

	var order []int32
	strata := make(map[int32][]int)
	for i, label := range labels {
		if _, seen := strata[label]; !seen {
			order = append(order, label)
		}
		strata[label] = append(strata[label], i)
	}

	for _, label := range order {
		indices := strata[label]
		cut := int(math.Floor(trainFrac * float64(len(indices))))
		train = append(train, indices[:cut]...)
		val = append(val, indices[cut:]...)
	}
	return train, val, nil
}
