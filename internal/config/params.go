package config

import (
	"fmt"
	"strconv"

	"mlops-pipeline/internal/estimator"

	"gopkg.in/yaml.v2"
)

type SearchConfig struct {
	NIter       int
	Scoring     string
	RandomState int64
}

func (s SearchConfig) AsParams() map[string]string {
	return map[string]string{
		"n_iter":       strconv.Itoa(s.NIter),
		"scoring":      s.Scoring,
		"random_state": strconv.FormatInt(s.RandomState, 10),
	}
}

type TransformationParams struct {
	TestSize    float64
	RandomState int64
}

// ModelSpace overrides the hyperparameter space of one candidate model.
type ModelSpace struct {
	Name  string
	Space estimator.Space
}

func (m ModelSpace) clone() ModelSpace {
	space := make(estimator.Space, len(m.Space))
	for i, d := range m.Space {
		space[i] = estimator.Dimension{Name: d.Name, Values: append([]float64(nil), d.Values...)}
	}
	return ModelSpace{Name: m.Name, Space: space}
}

type Params struct {
	Search         SearchConfig
	Transformation TransformationParams
	Models         []ModelSpace
}

type paramsFile struct {
	Search struct {
		NIter       *int   `yaml:"n_iter"`
		Scoring     string `yaml:"scoring"`
		RandomState *int64 `yaml:"random_state"`
	} `yaml:"search"`
	Transformation struct {
		TestSize    *float64 `yaml:"test_size"`
		RandomState *int64   `yaml:"random_state"`
	} `yaml:"transformation"`
	Models yaml.MapSlice `yaml:"models"`
}

func loadParams(path string) (Params, error) {
	var file paramsFile
	if err := readYaml(path, &file); err != nil {
		return Params{}, err
	}
	return parseParams(path, file)
}

func parseParams(path string, file paramsFile) (Params, error) {
	params := Params{
		Search:         SearchConfig{NIter: 10, Scoring: "r2", RandomState: 42},
		Transformation: TransformationParams{TestSize: 0.2, RandomState: 42},
	}

	if file.Search.NIter != nil {
		params.Search.NIter = *file.Search.NIter
	}
	if file.Search.Scoring != "" {
		params.Search.Scoring = file.Search.Scoring
	}
	if file.Search.RandomState != nil {
		params.Search.RandomState = *file.Search.RandomState
	}
	if file.Transformation.TestSize != nil {
		params.Transformation.TestSize = *file.Transformation.TestSize
	}
	if file.Transformation.RandomState != nil {
		params.Transformation.RandomState = *file.Transformation.RandomState
	}

	if params.Search.NIter < 1 {
		return Params{}, fmt.Errorf("%w: %s: search.n_iter must be positive, got %d", ErrConfiguration, path, params.Search.NIter)
	}
	if ts := params.Transformation.TestSize; ts <= 0 || ts >= 1 {
		return Params{}, fmt.Errorf("%w: %s: transformation.test_size must be in (0, 1), got %v", ErrConfiguration, path, ts)
	}

	for _, item := range file.Models {
		name, ok := item.Key.(string)
		if !ok {
			return Params{}, fmt.Errorf("%w: %s: model name %v is not a string", ErrConfiguration, path, item.Key)
		}
		space, err := parseSpace(item.Value)
		if err != nil {
			return Params{}, fmt.Errorf("%w: %s: models.%s: %v", ErrConfiguration, path, name, err)
		}
		params.Models = append(params.Models, ModelSpace{Name: name, Space: space})
	}

	return params, nil
}

func parseSpace(value interface{}) (estimator.Space, error) {
	if value == nil {
		return estimator.Space{}, nil
	}
	entries, ok := value.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("expected a mapping of parameter name to values")
	}

	space := make(estimator.Space, 0, len(entries))
	for _, entry := range entries {
		name, ok := entry.Key.(string)
		if !ok {
			return nil, fmt.Errorf("parameter name %v is not a string", entry.Key)
		}

		raw, isList := entry.Value.([]interface{})
		if !isList {
			raw = []interface{}{entry.Value}
		}

		values := make([]float64, 0, len(raw))
		for _, r := range raw {
			v, err := toFloat(r)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %v", name, err)
			}
			values = append(values, v)
		}
		space = append(space, estimator.Dimension{Name: name, Values: values})
	}

	if err := space.Validate(); err != nil {
		return nil, err
	}
	return space, nil
}

// toFloat maps YAML scalars onto hyperparameter values. null becomes 0,
// which tree models read as "no limit".
func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value %v of type %T", v, v)
	}
}
