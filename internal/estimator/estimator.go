package estimator

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrNotFitted     = errors.New("estimator is not fitted")
	ErrInvalidParam  = errors.New("invalid hyperparameter")
	ErrShapeMismatch = errors.New("feature/target shape mismatch")
)

// Estimator is a trainable regression model. Fit replaces any previous fit.
type Estimator interface {
	Fit(X [][]float64, y []float64) error

	Predict(X [][]float64) ([]float64, error)

	Params() Params
}

type Factory func(params Params) Estimator

// Params is a set of hyperparameters. Unset names fall back to the
// estimator's defaults.
type Params map[string]float64

func (p Params) Get(name string, dflt float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return dflt
}

func (p Params) Merge(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type Dimension struct {
	Name   string
	Values []float64
}

// Space is the candidate values of every tuned hyperparameter.
type Space []Dimension

func (s Space) Combinations() int {
	total := 1
	for _, d := range s {
		total *= len(d.Values)
	}
	return total
}

// Sorted returns a copy ordered by parameter name, which fixes the
// combination numbering used by At.
func (s Space) Sorted() Space {
	out := make(Space, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// At decodes combination index i (mixed radix, last dimension fastest).
func (s Space) At(i int) Params {
	params := make(Params, len(s))
	for d := len(s) - 1; d >= 0; d-- {
		n := len(s[d].Values)
		params[s[d].Name] = s[d].Values[i%n]
		i /= n
	}
	return params
}

func (s Space) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, d := range s {
		if d.Name == "" {
			return fmt.Errorf("%w: empty parameter name", ErrInvalidParam)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrInvalidParam, d.Name)
		}
		if len(d.Values) == 0 {
			return fmt.Errorf("%w: parameter %q has no candidate values", ErrInvalidParam, d.Name)
		}
		for _, v := range d.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: parameter %q has non-finite value %v", ErrInvalidParam, d.Name, v)
			}
		}
		seen[d.Name] = true
	}
	return nil
}

func checkShape(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("%w: no training rows", ErrShapeMismatch)
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d rows but %d targets", ErrShapeMismatch, len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d features, expected %d", ErrShapeMismatch, i, len(row), width)
		}
	}
	return width, nil
}

func checkFeatures(X [][]float64, width int) error {
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, model expects %d", ErrShapeMismatch, i, len(row), width)
		}
	}
	return nil
}
