package training

import (
	"github.com/specklab/cytonet/tensor"
)

// AccuracyCounts returns how many argmax predictions match their label, plus
// the batch size. Returning counts lets callers aggregate across batches
// before dividing.
func AccuracyCounts(probs, labels *tensor.Tensor) (correct, total int) {
	rows := probs.Shape[0]
	cols := probs.Shape[1]
	pd := probs.Float32Data()
	ld := labels.Int32Data()

	for r := 0; r < rows; r++ {
		if argmaxRow(pd[r*cols:(r+1)*cols]) == int(ld[r]) {
			correct++
		}
	}
	return correct, rows
}

// ClassAccuracyCounts restricts accuracy to samples whose true label is
// class. Total counts only those samples; a batch without any returns (0, 0).
func ClassAccuracyCounts(probs, labels *tensor.Tensor, class int) (correct, total int) {
	rows := probs.Shape[0]
	cols := probs.Shape[1]
	pd := probs.Float32Data()
	ld := labels.Int32Data()

	for r := 0; r < rows; r++ {
		if int(ld[r]) != class {
			continue
		}
		total++
		if argmaxRow(pd[r*cols:(r+1)*cols]) == class {
			correct++
		}
	}
	return correct, total
}

func argmaxRow(row []float32) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}

// ratio divides correct by total, treating an empty total as zero.
func ratio(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}
