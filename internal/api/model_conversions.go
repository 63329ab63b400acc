package api

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"mlops-pipeline/internal/database"
	"mlops-pipeline/pkg/api"
)

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func convertStage(s database.StageRun) api.Stage {
	return api.Stage{
		Name:           s.Stage,
		Position:       s.Position,
		Status:         s.Status,
		StartTime:      s.StartTime,
		CompletionTime: timePtr(s.CompletionTime),
		Error:          s.Error.String,
	}
}

func convertCandidate(c database.CandidateResult) api.Candidate {
	candidate := api.Candidate{
		Model:    c.ModelName,
		Status:   c.Status,
		Score:    floatPtr(c.Score),
		CVScore:  floatPtr(c.CVScore),
		Explored: c.Explored,
		Error:    c.Error.String,
	}
	if len(c.Params) > 0 {
		if err := json.Unmarshal(c.Params, &candidate.Params); err != nil {
			slog.Error("error decoding candidate params", "model", c.ModelName, "error", err)
		}
	}
	return candidate
}

func convertValidation(v *database.ValidationRecord) *api.Validation {
	if v == nil {
		return nil
	}
	return &api.Validation{
		Status:       v.Status,
		ErrorCount:   v.ErrorCount,
		WarningCount: v.WarningCount,
		OutlierCount: v.OutlierCount,
		Report:       json.RawMessage(v.Report),
	}
}

func convertTrackedRun(t database.TrackedRun) api.TrackedRun {
	run := api.TrackedRun{
		Experiment: t.Experiment,
		Name:       t.Name,
		Params:     make(map[string]string, len(t.Params)),
		Metrics:    make(map[string]float64, len(t.Metrics)),
	}
	for _, p := range t.Params {
		run.Params[p.Key] = p.Value
	}
	for _, m := range t.Metrics {
		run.Metrics[m.Key] = m.Value
	}
	return run
}

// convertRun converts the run row and whatever associations were loaded.
func convertRun(r database.PipelineRun) api.PipelineRun {
	run := api.PipelineRun{
		Id:             r.Id,
		Trigger:        r.Trigger,
		Status:         r.Status,
		CreationTime:   r.CreationTime,
		StartTime:      timePtr(r.StartTime),
		CompletionTime: timePtr(r.CompletionTime),
		Error:          r.Error.String,
		ArtifactPrefix: r.ArtifactPrefix.String,
		Validation:     convertValidation(r.Validation),
	}
	for _, s := range r.Stages {
		run.Stages = append(run.Stages, convertStage(s))
	}
	for _, c := range r.Candidates {
		run.Candidates = append(run.Candidates, convertCandidate(c))
	}
	return run
}

func convertRuns(rs []database.PipelineRun) []api.PipelineRun {
	runs := make([]api.PipelineRun, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}
