package validation

import (
	"math"
	"slices"

	"mlops-pipeline/internal/dataset"
)

// quantile interpolates linearly between the closest ranks of sorted,
// h = (n-1)p. This is the numpy "linear" method; gonum's stat.Quantile does
// not offer it.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	h := float64(len(sorted)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Bounds returns the inclusive IQR fences of the non-null values of c.
func Bounds(c *dataset.Column) (float64, float64) {
	values := make([]float64, 0, c.Len())
	for i := range c.Len() {
		if !c.IsNull(i) {
			values = append(values, c.Value(i))
		}
	}
	slices.Sort(values)

	q1 := quantile(values, 0.25)
	q3 := quantile(values, 0.75)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// DetectOutliers flags the values of a numeric column strictly outside the
// IQR fences. Outliers are keyed by row index; indices are in row order.
func DetectOutliers(frame *dataset.Frame, column string) (map[int]float64, []int) {
	c, ok := frame.Column(column)
	if !ok || !c.Kind.IsNumeric() {
		return map[int]float64{}, nil
	}

	lower, upper := Bounds(c)
	index := frame.Index()

	outliers := make(map[int]float64)
	var indices []int
	for i := range c.Len() {
		if c.IsNull(i) {
			continue
		}
		if v := c.Value(i); v < lower || v > upper {
			outliers[index[i]] = v
			indices = append(indices, index[i])
		}
	}
	return outliers, indices
}
