package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

var (
	ErrDataAccess     = errors.New("data access error")
	ErrColumnNotFound = errors.New("column not found")
	ErrNotNumeric     = errors.New("column is not numeric")
)

// Kind is the inferred storage type of a column, named after the pandas
// dtypes the schema files are written against.
type Kind string

const (
	Int64   Kind = "int64"
	Float64 Kind = "float64"
	Object  Kind = "object"
)

func (k Kind) IsNumeric() bool {
	return k == Int64 || k == Float64
}

type Column struct {
	Name string
	Kind Kind

	cells  []string
	values []float64
	ints   []int64
	nulls  []bool
}

func (c *Column) Len() int { return len(c.cells) }

func (c *Column) IsNull(i int) bool { return c.nulls[i] }

// Value is the numeric value of row i, NaN for nulls and object cells.
func (c *Column) Value(i int) float64 { return c.values[i] }

// Int is the exact value of row i in an Int64 column.
func (c *Column) Int(i int) int64 { return c.ints[i] }

func (c *Column) Cell(i int) string { return c.cells[i] }

func (c *Column) NullCount() int {
	count := 0
	for _, n := range c.nulls {
		if n {
			count++
		}
	}
	return count
}

func (c *Column) subset(rows []int) *Column {
	out := &Column{
		Name:   c.Name,
		Kind:   c.Kind,
		cells:  make([]string, len(rows)),
		values: make([]float64, len(rows)),
		ints:   make([]int64, len(rows)),
		nulls:  make([]bool, len(rows)),
	}
	for i, r := range rows {
		out.cells[i] = c.cells[r]
		out.values[i] = c.values[r]
		out.ints[i] = c.ints[r]
		out.nulls[i] = c.nulls[r]
	}
	return out
}

// Frame is an in-memory table. Every row keeps the index it had in the file
// it was read from, so row references survive row removal.
type Frame struct {
	columns []*Column
	index   []int
}

func (f *Frame) Len() int { return len(f.index) }

func (f *Frame) Index() []int { return slices.Clone(f.index) }

func (f *Frame) Columns() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

func (f *Frame) Column(name string) (*Column, bool) {
	for _, c := range f.columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (f *Frame) NumericColumns() []string {
	var names []string
	for _, c := range f.columns {
		if c.Kind.IsNumeric() {
			names = append(names, c.Name)
		}
	}
	return names
}

func (f *Frame) rows(positions []int) *Frame {
	out := &Frame{columns: make([]*Column, len(f.columns)), index: make([]int, len(positions))}
	for i, c := range f.columns {
		out.columns[i] = c.subset(positions)
	}
	for i, p := range positions {
		out.index[i] = f.index[p]
	}
	return out
}

// DropRows returns a frame without the rows whose index is in drop.
func (f *Frame) DropRows(drop map[int]bool) *Frame {
	keep := make([]int, 0, len(f.index))
	for pos, idx := range f.index {
		if !drop[idx] {
			keep = append(keep, pos)
		}
	}
	return f.rows(keep)
}

// Split shuffles the rows with the given seed and returns train and test
// partitions. The test partition holds ceil(testSize * n) rows.
func (f *Frame) Split(testSize float64, seed int64) (*Frame, *Frame, error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}
	n := f.Len()
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest == 0 || nTest >= n {
		return nil, nil, fmt.Errorf("cannot split %d rows with test size %v", n, testSize)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return f.rows(perm[nTest:]), f.rows(perm[:nTest]), nil
}

// FeaturesTarget returns every column except target as the feature matrix.
// All feature columns must be numeric and free of nulls.
func (f *Frame) FeaturesTarget(target string) ([][]float64, []float64, []string, error) {
	tc, ok := f.Column(target)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: '%s'", ErrColumnNotFound, target)
	}

	var features []*Column
	var names []string
	for _, c := range f.columns {
		if c.Name == target {
			continue
		}
		if !c.Kind.IsNumeric() {
			return nil, nil, nil, fmt.Errorf("%w: feature '%s' has kind %s", ErrNotNumeric, c.Name, c.Kind)
		}
		if c.NullCount() > 0 {
			return nil, nil, nil, fmt.Errorf("%w: feature '%s' has %d missing values", ErrNotNumeric, c.Name, c.NullCount())
		}
		features = append(features, c)
		names = append(names, c.Name)
	}
	if !tc.Kind.IsNumeric() || tc.NullCount() > 0 {
		return nil, nil, nil, fmt.Errorf("%w: target '%s' must be numeric without missing values", ErrNotNumeric, target)
	}

	X := make([][]float64, f.Len())
	y := make([]float64, f.Len())
	for i := range X {
		row := make([]float64, len(features))
		for j, c := range features {
			row[j] = c.values[i]
		}
		X[i] = row
		y[i] = tc.values[i]
	}
	return X, y, names, nil
}
