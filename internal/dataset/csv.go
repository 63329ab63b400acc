package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

var nullTokens = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true,
	"None": true, "n/a": true, "nan": true, "null": true,
}

func ReadCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataAccess, err)
	}
	defer file.Close()

	frame, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return frame, nil
}

// Read parses a delimited table whose first record is the header.
func Read(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header row", ErrDataAccess)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataAccess, err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataAccess, err)
	}

	frame := &Frame{columns: make([]*Column, len(header)), index: make([]int, len(records))}
	for i := range frame.index {
		frame.index[i] = i
	}

	for j, name := range dedupe(header) {
		cells := make([]string, len(records))
		for i, rec := range records {
			cells[i] = rec[j]
		}
		frame.columns[j] = newColumn(name, cells)
	}

	return frame, nil
}

// dedupe renames repeated header names to name.1, name.2 and so on, skipping
// suffixes that are already taken.
func dedupe(header []string) []string {
	names := make([]string, len(header))
	counts := make(map[string]int, len(header))
	for i, name := range header {
		cur := counts[name]
		for cur > 0 {
			counts[name] = cur + 1
			name = fmt.Sprintf("%s.%d", name, cur)
			cur = counts[name]
		}
		names[i] = name
		counts[name] = cur + 1
	}
	return names
}

func newColumn(name string, cells []string) *Column {
	c := &Column{
		Name:   name,
		cells:  cells,
		values: make([]float64, len(cells)),
		ints:   make([]int64, len(cells)),
		nulls:  make([]bool, len(cells)),
	}

	allInt, allFloat, hasNull := true, true, false
	for i, cell := range cells {
		s := strings.TrimSpace(cell)
		if nullTokens[s] {
			c.nulls[i] = true
			c.values[i] = math.NaN()
			hasNull = true
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err != nil {
			allInt = false
		} else {
			c.ints[i] = n
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			allFloat = false
			v = math.NaN()
		}
		c.values[i] = v
	}

	switch {
	case len(cells) == 0:
		c.Kind = Object
	case allInt && !hasNull:
		c.Kind = Int64
	case allFloat:
		c.Kind = Float64
	default:
		c.Kind = Object
	}
	return c
}

func (c *Column) format(i int) string {
	if c.nulls[i] {
		return ""
	}
	switch c.Kind {
	case Int64:
		return strconv.FormatInt(c.ints[i], 10)
	case Float64:
		s := strconv.FormatFloat(c.values[i], 'f', -1, 64)
		if !strings.ContainsAny(s, ".nN") {
			s += ".0"
		}
		return s
	default:
		return c.cells[i]
	}
}

func (f *Frame) Write(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(f.Columns()); err != nil {
		return err
	}

	record := make([]string, len(f.columns))
	for i := range f.index {
		for j, c := range f.columns {
			record[j] = c.format(i)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func (f *Frame) WriteCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer file.Close()

	if err := f.Write(file); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return file.Close()
}
