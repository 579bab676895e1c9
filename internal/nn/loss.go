package nn

import (
	"fmt"
	"math"

	"github.com/vk/trainforge/internal/tensor"
)

// CrossEntropy returns the mean negative log-likelihood of labels under
// the softmax of logits [N, C].
func CrossEntropy(logits *tensor.Tensor, labels []int) (float64, error) {
	if len(logits.Shape) != 2 || logits.Shape[0] != len(labels) {
		return 0, fmt.Errorf("cross entropy: logits %v do not match %d labels", logits.Shape, len(labels))
	}
	n, c := logits.Shape[0], logits.Shape[1]
	if n == 0 {
		return 0, nil
	}
	total := 0.0
	for i, label := range labels {
		if label < 0 || label >= c {
			return 0, fmt.Errorf("cross entropy: label %d outside [0, %d)", label, c)
		}
		row := logits.Data[i*c : (i+1)*c]
		total += logSumExp(row) - row[label]
	}
	return total / float64(n), nil
}

func logSumExp(row []float64) float64 {
	m := maxOf(row)
	s := 0.0
	for _, v := range row {
		s += math.Exp(v - m)
	}
	return m + math.Log(s)
}

// Argmax returns the index of the largest value of every row of x [N, C].
func Argmax(x *tensor.Tensor) ([]int, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("argmax expects [N, C], got %v", x.Shape)
	}
	n, c := x.Shape[0], x.Shape[1]
	out := make([]int, n)
	for i := range out {
		row := x.Data[i*c : (i+1)*c]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out, nil
}
