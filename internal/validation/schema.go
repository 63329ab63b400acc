package validation

import (
	"fmt"
	"slices"
	"strings"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/dataset"
)

// acceptedKinds lists the storage types each declared logical type accepts.
// Logical types not listed here only accept a storage type of the same name.
var acceptedKinds = map[string][]string{
	"int":    {"int64", "int32"},
	"float":  {"float64", "float32"},
	"string": {"object", "string"},
}

func formatSet(names []string) string {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	quoted := make([]string, len(sorted))
	for i, n := range sorted {
		quoted[i] = "'" + n + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// ValidateSchema returns the column set and type errors of frame against
// schema. A column set difference is reported as a single error.
func ValidateSchema(frame *dataset.Frame, schema config.Schema) []string {
	var errs []string

	expected := schema.Names()
	found := frame.Columns()
	if !sameSet(expected, found) {
		errs = append(errs, fmt.Sprintf("Column mismatch. Expected: %s, Found: %s", formatSet(expected), formatSet(found)))
	}

	for _, col := range schema.Columns {
		c, ok := frame.Column(col.Name)
		if !ok {
			continue
		}
		accepted, ok := acceptedKinds[col.Type]
		if !ok {
			accepted = []string{col.Type}
		}
		if !slices.Contains(accepted, string(c.Kind)) {
			errs = append(errs, fmt.Sprintf("Type mismatch for '%s': expected %s, found %s", col.Name, col.Type, c.Kind))
		}
	}

	return errs
}

// MissingValues returns one error per column holding at least one null.
func MissingValues(frame *dataset.Frame) []string {
	var errs []string
	for _, name := range frame.Columns() {
		c, _ := frame.Column(name)
		if n := c.NullCount(); n > 0 {
			errs = append(errs, fmt.Sprintf("Missing values in column '%s': %d", name, n))
		}
	}
	return errs
}

// sameSet reports whether a and b hold the same names the same number of
// times.
func sameSet(a, b []string) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
