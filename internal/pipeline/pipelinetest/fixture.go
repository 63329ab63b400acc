// Package pipelinetest writes a complete, runnable pipeline configuration for
// tests. The source data is a zip archive served over HTTP.
package pipelinetest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const Config = `
artifacts_root: {root}
data_ingestion:
  root_dir: {root}/data_ingestion
  source_URL: {source}
  local_data_file: {root}/data_ingestion/data.zip
  unzip_dir: {root}/data_ingestion
data_validation:
  root_dir: {root}/data_validation
  unzip_data_dir: {root}/data_ingestion/data.csv
  status_file: status.txt
  report_file: report.yaml
data_transformation:
  root_dir: {root}/data_transformation
  data_path: {root}/data_validation/cleaned_data.csv
model_trainer:
  root_dir: {root}/model_trainer
  train_data_path: {root}/data_transformation/train.csv
  test_data_path: {root}/data_transformation/test.csv
  model_name: best_model.json
model_evaluation:
  root_dir: {root}/model_evaluation
  test_data_path: {root}/data_transformation/test.csv
  model_path: {root}/model_trainer/best_model.json
  metric_file_name: {root}/model_evaluation/metrics.json
`

const Params = `
search:
  n_iter: 2
  scoring: r2
models:
  elasticnet:
    alpha: [0.001, 0.01]
    l1_ratio: [0.5]
  randomforest:
    n_estimators: [5]
    max_depth: [3]
  xgbregressor:
    n_estimators: [5]
    max_depth: [2]
`

// Schema matches the columns of Dataset.
const Schema = "columns:\n  a: int\n  b: float\n  y: float\ntarget_column: y\n"

// MismatchedSchema declares a column Dataset does not have.
const MismatchedSchema = "columns:\n  a: int\n  b: float\n  c: float\n  y: float\ntarget_column: y\n"

// Dataset returns n rows of y = 2a - 3b + 1.
func Dataset(n int) string {
	var sb strings.Builder
	sb.WriteString("a,b,y\n")
	for i := range n {
		a := i % 13
		b := float64(i*7%5) + 0.5
		fmt.Fprintf(&sb, "%d,%.1f,%.1f\n", a, b, 2*float64(a)-3*b+1)
	}
	return sb.String()
}

// ServeZip serves csv as data.csv inside a zip archive until the test ends.
func ServeZip(t *testing.T, csv string) *httptest.Server {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("data.csv")
	require.NoError(t, err)
	_, err = f.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes()) //nolint:errcheck
	}))
	t.Cleanup(server.Close)
	return server
}

type Files struct {
	Config string
	Params string
	Schema string
	// Root is the artifacts root every stage writes under.
	Root string
}

// Write renders the configuration documents into a temp dir. The {root} and
// {source} placeholders of config are replaced in every document.
func Write(t *testing.T, config, params, schema, source string) Files {
	dir := t.TempDir()
	root := filepath.Join(dir, "artifacts")

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		content = strings.ReplaceAll(content, "{root}", root)
		content = strings.ReplaceAll(content, "{source}", source)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	return Files{
		Config: write("config.yaml", config),
		Params: write("params.yaml", params),
		Schema: write("schema.yaml", schema),
		Root:   root,
	}
}

// Setup serves a 40 row dataset and writes a configuration reading it.
func Setup(t *testing.T, schema string) Files {
	server := ServeZip(t, Dataset(40))
	return Write(t, Config, Params, schema, server.URL+"/data.zip")
}
