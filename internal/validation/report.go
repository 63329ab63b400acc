package validation

import (
	"slices"

	"mlops-pipeline/internal/dataset"

	"gopkg.in/yaml.v2"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ColumnOutliers holds the flagged values of one column keyed by row index.
// Ints carries the exact values of an Int64 column.
type ColumnOutliers struct {
	Column string
	Kind   dataset.Kind
	Values map[int]float64
	Ints   map[int]int64
}

// Value returns the flagged value of row as an int64 for Int64 columns and a
// float64 otherwise.
func (c ColumnOutliers) Value(row int) interface{} {
	if c.Kind != dataset.Int64 {
		return c.Values[row]
	}
	if n, ok := c.Ints[row]; ok {
		return n
	}
	return int64(c.Values[row])
}

func (c ColumnOutliers) mapSlice() yaml.MapSlice {
	rows := make([]int, 0, len(c.Values))
	for r := range c.Values {
		rows = append(rows, r)
	}
	slices.Sort(rows)

	out := make(yaml.MapSlice, 0, len(rows))
	for _, r := range rows {
		out = append(out, yaml.MapItem{Key: r, Value: c.Value(r)})
	}
	return out
}

// Report is the outcome of one validation run. Outliers are recorded before
// any row removal.
type Report struct {
	Status      string
	Errors      []string
	Warnings    []string
	Outliers    []ColumnOutliers
	CleanedFile string
}

func (r Report) Success() bool {
	return r.Status == StatusSuccess
}

func (r *Report) finalize() {
	if len(r.Errors) > 0 {
		r.Status = StatusFailed
	} else {
		r.Status = StatusSuccess
	}
}

func (r Report) MarshalYAML() (interface{}, error) {
	outliers := make(yaml.MapSlice, 0, len(r.Outliers))
	for _, c := range r.Outliers {
		outliers = append(outliers, yaml.MapItem{Key: c.Column, Value: c.mapSlice()})
	}

	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	out := yaml.MapSlice{
		{Key: "status", Value: r.Status},
		{Key: "errors", Value: errs},
		{Key: "warnings", Value: warnings},
		{Key: "outliers", Value: outliers},
	}
	if r.CleanedFile != "" {
		out = append(out, yaml.MapItem{Key: "cleaned_file", Value: r.CleanedFile})
	}
	return out, nil
}

func (r Report) OutlierCount() int {
	total := 0
	for _, c := range r.Outliers {
		total += len(c.Values)
	}
	return total
}
