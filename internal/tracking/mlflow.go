package tracking

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-resty/resty/v2"
)

// MLflowSink logs runs through the MLflow tracking REST API. Hosted
// servers such as DagsHub are reached with basic auth.
type MLflowSink struct {
	client *resty.Client
}

type MLflowOption func(*resty.Client)

func WithBasicAuth(username, password string) MLflowOption {
	return func(c *resty.Client) {
		if username != "" || password != "" {
			c.SetBasicAuth(username, password)
		}
	}
}

func WithTimeout(timeout time.Duration) MLflowOption {
	return func(c *resty.Client) {
		c.SetTimeout(timeout)
	}
}

func NewMLflowSink(trackingURI string, opts ...MLflowOption) *MLflowSink {
	client := resty.New().
		SetBaseURL(trackingURI).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	for _, opt := range opts {
		opt(client)
	}
	return &MLflowSink{client: client}
}

type mlflowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

type experimentResponse struct {
	Experiment struct {
		ExperimentId   string `json:"experiment_id"`
		LifecycleStage string `json:"lifecycle_stage"`
	} `json:"experiment"`
}

type createExperimentResponse struct {
	ExperimentId string `json:"experiment_id"`
}

type createRunResponse struct {
	Run struct {
		Info struct {
			RunId string `json:"run_id"`
		} `json:"info"`
	} `json:"run"`
}

type param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

func (s *MLflowSink) call(ctx context.Context, method, endpoint string, body any, out any) (*resty.Response, error) {
	req := s.client.R().SetContext(ctx).SetError(&mlflowError{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	res, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrSinkUnavailable, method, endpoint, err)
	}
	return res, nil
}

func statusError(res *resty.Response) error {
	detail := res.String()
	if e, ok := res.Error().(*mlflowError); ok && e.ErrorCode != "" {
		detail = e.ErrorCode + ": " + e.Message
	}
	return fmt.Errorf("%w: %s %s returned %d: %s", ErrSinkUnavailable, res.Request.Method, res.Request.URL, res.StatusCode(), detail)
}

func (s *MLflowSink) experimentId(ctx context.Context, name string) (string, error) {
	var found experimentResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("experiment_name", name).
		SetResult(&found).
		SetError(&mlflowError{}).
		Get("/api/2.0/mlflow/experiments/get-by-name")
	if err != nil {
		return "", fmt.Errorf("%w: looking up experiment: %w", ErrSinkUnavailable, err)
	}
	if res.IsSuccess() {
		return found.Experiment.ExperimentId, nil
	}
	if res.StatusCode() != http.StatusNotFound {
		return "", statusError(res)
	}

	var created createExperimentResponse
	res, err = s.call(ctx, resty.MethodPost, "/api/2.0/mlflow/experiments/create", map[string]string{"name": name}, &created)
	if err != nil {
		return "", err
	}
	if !res.IsSuccess() {
		return "", statusError(res)
	}
	return created.ExperimentId, nil
}

func (s *MLflowSink) LogRun(ctx context.Context, run Run) error {
	experimentId, err := s.experimentId(ctx, run.Experiment)
	if err != nil {
		return err
	}

	start := time.Now().UnixMilli()

	var created createRunResponse
	res, err := s.call(ctx, resty.MethodPost, "/api/2.0/mlflow/runs/create", map[string]any{
		"experiment_id": experimentId,
		"run_name":      run.Name,
		"start_time":    start,
	}, &created)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return statusError(res)
	}
	runId := created.Run.Info.RunId

	params := make([]param, 0, len(run.Params))
	for _, k := range sortedKeys(run.Params) {
		params = append(params, param{Key: k, Value: run.Params[k]})
	}
	metrics := make([]metric, 0, len(run.Metrics))
	for _, k := range sortedKeys(run.Metrics) {
		metrics = append(metrics, metric{Key: k, Value: run.Metrics[k], Timestamp: start})
	}
	batch := map[string]any{"run_id": runId, "params": params, "metrics": metrics}

	status := "FINISHED"
	res, err = s.call(ctx, resty.MethodPost, "/api/2.0/mlflow/runs/log-batch", batch, nil)
	if err == nil && !res.IsSuccess() {
		err = statusError(res)
	}
	if err != nil {
		status = "FAILED"
	}

	res, endErr := s.call(ctx, resty.MethodPost, "/api/2.0/mlflow/runs/update", map[string]any{
		"run_id":   runId,
		"status":   status,
		"end_time": time.Now().UnixMilli(),
	}, nil)
	if endErr == nil && !res.IsSuccess() {
		endErr = statusError(res)
	}

	if err != nil {
		return err
	}
	return endErr
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
