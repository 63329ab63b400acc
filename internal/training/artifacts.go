package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"mlops-pipeline/internal/estimator"
)

func SaveModel(path string, o Outcome) error {
	return estimator.Save(path, o.ID, o.Estimator)
}

// SaveParams writes model_name followed by every tuned hyperparameter in
// name order.
func SaveParams(path string, o Outcome) error {
	var buf bytes.Buffer
	buf.WriteString("{\n")

	writeField := func(key string, value interface{}, last bool) error {
		k, _ := json.Marshal(key)
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("error encoding param %s: %w", key, err)
		}
		buf.WriteString("    ")
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(v)
		if !last {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
		return nil
	}

	names := o.Params.Names()
	if err := writeField("model_name", o.ID, len(names) == 0); err != nil {
		return err
	}
	for i, name := range names {
		if err := writeField(name, o.Params[name], i == len(names)-1); err != nil {
			return err
		}
	}
	buf.WriteString("}")

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("error writing params to %s: %w", path, err)
	}
	return nil
}

// LoadParams reads a params file written by SaveParams.
func LoadParams(path string) (string, estimator.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("error reading params %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, fmt.Errorf("error decoding params %s: %w", path, err)
	}

	name, _ := raw["model_name"].(string)
	params := estimator.Params{}
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			params[k] = f
		}
	}
	return name, params, nil
}

type candidateSummary struct {
	Model    string           `json:"model"`
	Status   State            `json:"status"`
	Score    *float64         `json:"score,omitempty"`
	CVScore  *float64         `json:"cv_score,omitempty"`
	Explored int              `json:"explored,omitempty"`
	Params   estimator.Params `json:"params,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type selectionSummary struct {
	Scoring    string             `json:"scoring"`
	BestModel  string             `json:"best_model,omitempty"`
	Candidates []candidateSummary `json:"candidates"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// SaveSelection writes a summary of every candidate outcome.
func SaveSelection(path string, selection Selection) error {
	summary := selectionSummary{Scoring: selection.Scoring, Candidates: []candidateSummary{}}
	if best, ok := selection.Best(); ok {
		summary.BestModel = best.ID
	}
	for _, o := range selection.Outcomes {
		c := candidateSummary{Model: o.ID, Status: o.State, Explored: o.Explored, Params: o.Params}
		if o.State == StateSucceeded {
			c.Score, c.CVScore = finite(o.Score), finite(o.CVScore)
		}
		if o.Err != nil {
			c.Error = o.Err.Error()
		}
		summary.Candidates = append(summary.Candidates, c)
	}

	data, err := json.MarshalIndent(summary, "", "    ")
	if err != nil {
		return fmt.Errorf("error encoding selection summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing selection summary: %w", err)
	}
	return nil
}
