package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Stage struct {
	Name           string
	Position       int
	Status         string
	StartTime      time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
	Error          string     `json:"Error,omitempty"`
}

type Candidate struct {
	Model    string
	Status   string
	Score    *float64           `json:"Score,omitempty"`
	CVScore  *float64           `json:"CVScore,omitempty"`
	Explored int                `json:"Explored,omitempty"`
	Params   map[string]float64 `json:"Params,omitempty"`
	Error    string             `json:"Error,omitempty"`
}

type Validation struct {
	Status       string
	ErrorCount   int
	WarningCount int
	OutlierCount int

	// Report holds the errors, warnings and outlier values found.
	Report json.RawMessage `json:"Report,omitempty"`
}

type TrackedRun struct {
	Experiment string
	Name       string
	Params     map[string]string
	Metrics    map[string]float64
}

type PipelineRun struct {
	Id      uuid.UUID
	Trigger string
	Status  string

	CreationTime   time.Time
	StartTime      *time.Time `json:"StartTime,omitempty"`
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Error          string `json:"Error,omitempty"`
	ArtifactPrefix string `json:"ArtifactPrefix,omitempty"`

	Stages     []Stage      `json:"Stages,omitempty"`
	Candidates []Candidate  `json:"Candidates,omitempty"`
	Validation *Validation  `json:"Validation,omitempty"`
	Tracked    []TrackedRun `json:"Tracked,omitempty"`
}

type SubmitRunResponse struct {
	RunId uuid.UUID
}

type ListRunsParams struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type Artifact struct {
	Key  string
	Size int64
}

type SubmitRunRequest struct {
	// Trigger labels what started the run. It defaults to "api".
	Trigger string
}

type ErrorResponse struct {
	Error string
}
