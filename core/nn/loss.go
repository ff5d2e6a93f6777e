package nn

import "gonum.org/v1/gonum/mat"

// MSELoss returns the mean squared error between a batch×1 prediction and the
// targets, together with dL/dpred.
func MSELoss(pred *mat.Dense, target []float64) (float64, *mat.Dense, error) {
	rows, cols := pred.Dims()
	if cols != 1 || rows != len(target) {
		return 0, nil, shapeErrorf("mse", "prediction is %dx%d for %d targets", rows, cols, len(target))
	}
	grad := mat.NewDense(rows, 1, nil)
	var sum float64
	n := float64(rows)
	for i, y := range target {
		d := pred.At(i, 0) - y
		sum += d * d
		grad.Set(i, 0, 2*d/n)
	}
	return sum / n, grad, nil
}
