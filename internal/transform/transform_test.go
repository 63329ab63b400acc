package transform_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/dataset"
	"mlops-pipeline/internal/transform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, status string) config.DataTransformationConfig {
	dir := t.TempDir()

	var sb strings.Builder
	sb.WriteString("x,y\n")
	for i := range 10 {
		fmt.Fprintf(&sb, "%d,%d\n", i, i*2)
	}
	dataPath := filepath.Join(dir, "cleaned_data.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte(sb.String()), 0644))

	statusPath := filepath.Join(dir, "status.txt")
	if status != "" {
		require.NoError(t, os.WriteFile(statusPath, []byte(status), 0644))
	}

	return config.DataTransformationConfig{
		RootDir:     filepath.Join(dir, "data_transformation"),
		DataPath:    dataPath,
		StatusFile:  statusPath,
		TestSize:    0.2,
		RandomState: 42,
	}
}

func TestTransformSplitsData(t *testing.T) {
	cfg := setup(t, "success")

	trainPath, testPath, err := transform.NewTransformer(cfg).Run()
	require.NoError(t, err)

	train, err := dataset.ReadCSV(trainPath)
	require.NoError(t, err)
	test, err := dataset.ReadCSV(testPath)
	require.NoError(t, err)

	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, test.Len())
	assert.Equal(t, []string{"x", "y"}, train.Columns())

	seen := map[float64]bool{}
	for _, f := range []*dataset.Frame{train, test} {
		c, _ := f.Column("x")
		for i := range c.Len() {
			seen[c.Value(i)] = true
		}
	}
	assert.Len(t, seen, 10)

	// The split is reproducible for a fixed seed.
	first, err := os.ReadFile(testPath)
	require.NoError(t, err)
	_, _, err = transform.NewTransformer(cfg).Run()
	require.NoError(t, err)
	second, err := os.ReadFile(testPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTransformRequiresSuccessfulValidation(t *testing.T) {
	for name, status := range map[string]string{"failed": "failed", "missing": ""} {
		t.Run(name, func(t *testing.T) {
			cfg := setup(t, status)
			_, _, err := transform.NewTransformer(cfg).Run()
			assert.ErrorIs(t, err, transform.ErrValidationFailed)
			assert.NoFileExists(t, filepath.Join(cfg.RootDir, transform.TrainFile))
		})
	}
}
