package config

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v2"
)

type Column struct {
	Name string
	Type string
}

// Schema is the declared column set of the raw dataset, in file order.
type Schema struct {
	Columns      []Column
	TargetColumn string
}

func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	return names
}

func (s Schema) Lookup(name string) (string, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.Type, true
		}
	}
	return "", false
}

func (s Schema) clone() Schema {
	return Schema{Columns: slices.Clone(s.Columns), TargetColumn: s.TargetColumn}
}

type schemaFile struct {
	Columns      yaml.MapSlice `yaml:"columns"`
	TargetColumn string        `yaml:"target_column"`
}

func LoadSchema(path string) (Schema, error) {
	var file schemaFile
	if err := readYaml(path, &file); err != nil {
		return Schema{}, err
	}
	return parseSchema(path, file)
}

func parseSchema(path string, file schemaFile) (Schema, error) {
	if len(file.Columns) == 0 {
		return Schema{}, fmt.Errorf("%w: %s is missing required key 'columns'", ErrConfiguration, path)
	}
	if file.TargetColumn == "" {
		return Schema{}, fmt.Errorf("%w: %s is missing required key 'target_column'", ErrConfiguration, path)
	}

	schema := Schema{TargetColumn: file.TargetColumn}
	seen := make(map[string]bool)
	for _, item := range file.Columns {
		name, ok := item.Key.(string)
		if !ok {
			return Schema{}, fmt.Errorf("%w: %s: column name %v is not a string", ErrConfiguration, path, item.Key)
		}
		typ, ok := item.Value.(string)
		if !ok || typ == "" {
			return Schema{}, fmt.Errorf("%w: %s: column '%s' has no type", ErrConfiguration, path, name)
		}
		if seen[name] {
			return Schema{}, fmt.Errorf("%w: %s: column '%s' declared twice", ErrConfiguration, path, name)
		}
		seen[name] = true
		schema.Columns = append(schema.Columns, Column{Name: name, Type: typ})
	}

	if !seen[schema.TargetColumn] {
		return Schema{}, fmt.Errorf("%w: %s: target column '%s' is not a declared column", ErrConfiguration, path, schema.TargetColumn)
	}

	return schema, nil
}
