package estimator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var ErrUnsupportedKind = errors.New("unsupported estimator kind")

// Kinded is implemented by estimators that can be persisted.
type Kinded interface {
	Kind() string
}

// Kinds maps a persisted kind to the constructor used to restore it.
var Kinds = map[string]Factory{
	KindElasticNet:       NewElasticNet,
	KindRandomForest:     NewRandomForest,
	KindGradientBoosting: NewGradientBoosting,
}

type envelope struct {
	ModelName string          `json:"model_name"`
	Kind      string          `json:"kind"`
	Params    Params          `json:"params"`
	State     json.RawMessage `json:"estimator"`
}

// Model is a persisted estimator together with the name it was saved under.
type Model struct {
	Name      string
	Estimator Estimator
}

func Marshal(name string, est Estimator) ([]byte, error) {
	k, ok := est.(Kinded)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKind, est)
	}
	state, err := json.Marshal(est)
	if err != nil {
		return nil, fmt.Errorf("error encoding estimator state: %w", err)
	}
	return json.Marshal(envelope{ModelName: name, Kind: k.Kind(), Params: est.Params(), State: state})
}

func Unmarshal(data []byte) (Model, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Model{}, fmt.Errorf("error decoding model envelope: %w", err)
	}
	factory, ok := Kinds[env.Kind]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, env.Kind)
	}
	est := factory(env.Params)
	if err := json.Unmarshal(env.State, est); err != nil {
		return Model{}, fmt.Errorf("error decoding %s state: %w", env.Kind, err)
	}
	return Model{Name: env.ModelName, Estimator: est}, nil
}

func Save(path, name string, est Estimator) error {
	data, err := Marshal(name, est)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing model to %s: %w", path, err)
	}
	return nil
}

func Load(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("error reading model %s: %w", path, err)
	}
	return Unmarshal(data)
}
