package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const KindElasticNet = "elasticnet"

// ElasticNet is a linear model with combined L1 and L2 penalties, fit by
// cyclic coordinate descent on
//
//	1/(2n) ||y - Xw - b||^2 + alpha*l1_ratio*||w||_1 + 0.5*alpha*(1-l1_ratio)*||w||^2
type ElasticNet struct {
	params Params

	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	NIter     int       `json:"n_iter"`
}

func NewElasticNet(params Params) Estimator {
	return &ElasticNet{params: params}
}

func (m *ElasticNet) Kind() string { return KindElasticNet }

func (m *ElasticNet) Params() Params {
	return Params{
		"alpha":         m.params.Get("alpha", 1.0),
		"l1_ratio":      m.params.Get("l1_ratio", 0.5),
		"max_iter":      m.params.Get("max_iter", 1000),
		"tol":           m.params.Get("tol", 1e-4),
		"fit_intercept": m.params.Get("fit_intercept", 1),
	}
}

func (m *ElasticNet) Fit(X [][]float64, y []float64) error {
	p := m.Params()
	alpha, l1Ratio := p["alpha"], p["l1_ratio"]
	maxIter, tol := int(p["max_iter"]), p["tol"]

	if !(alpha >= 0) {
		return fmt.Errorf("%w: alpha must be non-negative, got %v", ErrInvalidParam, alpha)
	}
	if !(l1Ratio >= 0 && l1Ratio <= 1) {
		return fmt.Errorf("%w: l1_ratio must be in [0, 1], got %v", ErrInvalidParam, l1Ratio)
	}
	if !(p["max_iter"] >= 1) {
		return fmt.Errorf("%w: max_iter must be positive, got %v", ErrInvalidParam, p["max_iter"])
	}
	if !(tol >= 0) || math.IsInf(tol, 0) {
		return fmt.Errorf("%w: tol must be a finite non-negative number, got %v", ErrInvalidParam, tol)
	}

	width, err := checkShape(X, y)
	if err != nil {
		return err
	}
	n := len(X)

	cols := make([][]float64, width)
	means := make([]float64, width)
	for j := range cols {
		cols[j] = make([]float64, n)
		for i, row := range X {
			cols[j][i] = row[j]
		}
	}

	residual := make([]float64, n)
	copy(residual, y)
	yMean := 0.0
	if p["fit_intercept"] != 0 {
		for j := range cols {
			means[j] = stat.Mean(cols[j], nil)
			floats.AddConst(-means[j], cols[j])
		}
		yMean = stat.Mean(y, nil)
		floats.AddConst(-yMean, residual)
	}

	norms := make([]float64, width)
	for j := range cols {
		norms[j] = floats.Dot(cols[j], cols[j])
	}

	l1 := alpha * l1Ratio * float64(n)
	l2 := alpha * (1 - l1Ratio) * float64(n)
	w := make([]float64, width)

	iter := 0
	for iter < maxIter {
		iter++
		var maxDelta, maxW float64
		for j := range cols {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			if old != 0 {
				floats.AddScaled(residual, old, cols[j])
			}
			rho := floats.Dot(cols[j], residual)
			next := softThreshold(rho, l1) / (norms[j] + l2)
			if next != 0 {
				floats.AddScaled(residual, -next, cols[j])
			}
			w[j] = next
			maxDelta = max(maxDelta, math.Abs(next-old))
			maxW = max(maxW, math.Abs(next))
		}
		if maxW == 0 || maxDelta/maxW < tol {
			break
		}
	}

	for _, c := range w {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("elasticnet diverged with alpha=%v l1_ratio=%v", alpha, l1Ratio)
		}
	}

	m.Coef = w
	m.Intercept = yMean - floats.Dot(means, w)
	m.NIter = iter
	return nil
}

func (m *ElasticNet) Predict(X [][]float64) ([]float64, error) {
	if m.Coef == nil {
		return nil, ErrNotFitted
	}
	if err := checkFeatures(X, len(m.Coef)); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = floats.Dot(row, m.Coef) + m.Intercept
	}
	return out, nil
}

func softThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	default:
		return 0
	}
}
