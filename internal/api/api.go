package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"mlops-pipeline/internal/database"
	"mlops-pipeline/internal/messaging"
	"mlops-pipeline/internal/storage"
	"mlops-pipeline/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const defaultTrigger = "api"

type BackendService struct {
	db             *gorm.DB
	storage        storage.Provider
	publisher      messaging.Publisher
	artifactBucket string
}

// NewBackendService serves pipeline runs. storage may be nil, in which case
// artifact listing is unavailable.
func NewBackendService(db *gorm.DB, storage storage.Provider, pub messaging.Publisher, artifactBucket string) *BackendService {
	return &BackendService{db: db, storage: storage, publisher: pub, artifactBucket: artifactBucket}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(w http.ResponseWriter, r *http.Request) (any, error) { return nil, nil }))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitRun))
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
		r.Get("/{run_id}/artifacts", RestHandler(s.ListArtifacts))
	})
}

func (s *BackendService) SubmitRun(w http.ResponseWriter, r *http.Request) (any, error) {
	req := api.SubmitRunRequest{Trigger: defaultTrigger}
	if r.ContentLength > 0 {
		parsed, err := ParseRequest[api.SubmitRunRequest](w, r)
		if err != nil {
			return nil, err
		}
		if parsed.Trigger != "" {
			req.Trigger = parsed.Trigger
		}
	}
	if err := validateTrigger(req.Trigger); err != nil {
		return nil, err
	}

	run, err := messaging.SubmitRun(r.Context(), s.db, s.publisher, req.Trigger)
	if err != nil {
		slog.Error("error submitting pipeline run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue pipeline run")
	}

	slog.Info("submitted pipeline run", "run_id", run.Id, "trigger", run.Trigger)
	return api.SubmitRunResponse{RunId: run.Id}, nil
}

var runStatuses = map[string]bool{
	database.JobQueued:    true,
	database.JobRunning:   true,
	database.JobCompleted: true,
	database.JobFailed:    true,
}

func (s *BackendService) ListRuns(w http.ResponseWriter, r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListRunsParams](r)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(params.Status)
	if status != "" && !runStatuses[status] {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid status '%s'", params.Status)
	}
	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must not be negative")
	}

	runs, err := database.ListPipelineRuns(r.Context(), s.db, status, params.Limit)
	if err != nil {
		slog.Error("error listing pipeline runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving pipeline runs")
	}

	return convertRuns(runs), nil
}

func (s *BackendService) loadRun(r *http.Request) (database.PipelineRun, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return database.PipelineRun{}, err
	}

	run, err := database.GetPipelineRun(r.Context(), s.db, runId)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return database.PipelineRun{}, CodedErrorf(http.StatusNotFound, "pipeline run not found")
		}
		slog.Error("error getting pipeline run", "run_id", runId, "error", err)
		return database.PipelineRun{}, CodedErrorf(http.StatusInternalServerError, "error retrieving pipeline run")
	}
	return run, nil
}

func (s *BackendService) GetRun(w http.ResponseWriter, r *http.Request) (any, error) {
	run, err := s.loadRun(r)
	if err != nil {
		return nil, err
	}

	tracked, err := database.GetTrackedRuns(r.Context(), s.db, run.Id)
	if err != nil {
		slog.Error("error getting tracked runs", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving tracked metrics")
	}

	res := convertRun(run)
	for _, t := range tracked {
		res.Tracked = append(res.Tracked, convertTrackedRun(t))
	}
	return res, nil
}

func (s *BackendService) ListArtifacts(w http.ResponseWriter, r *http.Request) (any, error) {
	run, err := s.loadRun(r)
	if err != nil {
		return nil, err
	}

	if s.storage == nil || s.artifactBucket == "" {
		return nil, CodedErrorf(http.StatusNotFound, "artifact storage is not configured")
	}
	if !run.ArtifactPrefix.Valid {
		return nil, CodedErrorf(http.StatusNotFound, "pipeline run has no published artifacts")
	}

	prefix := run.ArtifactPrefix.String + "/"
	objects, err := s.storage.ListObjects(r.Context(), s.artifactBucket, prefix)
	if err != nil {
		slog.Error("error listing artifacts", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing artifacts")
	}

	artifacts := make([]api.Artifact, 0, len(objects))
	for _, obj := range objects {
		artifacts = append(artifacts, api.Artifact{Key: strings.TrimPrefix(obj.Name, prefix), Size: obj.Size})
	}
	return artifacts, nil
}
