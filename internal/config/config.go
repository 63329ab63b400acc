package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

var ErrConfiguration = errors.New("invalid configuration")

const (
	DefaultConfigPath = "config/config.yaml"
	DefaultParamsPath = "params.yaml"
	DefaultSchemaPath = "schema.yaml"
)

type DataIngestionConfig struct {
	RootDir       string
	SourceURL     string
	LocalDataFile string
	UnzipDir      string
}

type DataValidationConfig struct {
	RootDir        string
	StatusFile     string
	DataFile       string
	ReportFile     string
	CleanedFile    string
	RemoveOutliers bool
}

type DataTransformationConfig struct {
	RootDir     string
	DataPath    string
	StatusFile  string
	TestSize    float64
	RandomState int64
}

type ModelTrainerConfig struct {
	RootDir       string
	TrainDataPath string
	TestDataPath  string
	ModelName     string
	TargetColumn  string
}

type ModelEvaluationConfig struct {
	RootDir        string
	TestDataPath   string
	ModelPath      string
	MetricFileName string
	TargetColumn   string
	Params         map[string]string
}

// Manager resolves the declarative pipeline files once. All accessors return
// copies, so stage configs cannot be mutated after load.
type Manager struct {
	artifactsRoot string

	ingestion      DataIngestionConfig
	validation     DataValidationConfig
	transformation DataTransformationConfig
	trainer        ModelTrainerConfig
	evaluation     ModelEvaluationConfig

	schema Schema
	search SearchConfig
	models []ModelSpace
}

type fileConfig struct {
	ArtifactsRoot string `yaml:"artifacts_root"`
	DataIngestion struct {
		RootDir       string `yaml:"root_dir"`
		SourceURL     string `yaml:"source_URL"`
		LocalDataFile string `yaml:"local_data_file"`
		UnzipDir      string `yaml:"unzip_dir"`
	} `yaml:"data_ingestion"`
	DataValidation struct {
		RootDir        string `yaml:"root_dir"`
		UnzipDataDir   string `yaml:"unzip_data_dir"`
		StatusFile     string `yaml:"status_file"`
		ReportFile     string `yaml:"report_file"`
		RemoveOutliers *bool  `yaml:"remove_outliers"`
	} `yaml:"data_validation"`
	DataTransformation struct {
		RootDir  string `yaml:"root_dir"`
		DataPath string `yaml:"data_path"`
	} `yaml:"data_transformation"`
	ModelTrainer struct {
		RootDir       string `yaml:"root_dir"`
		TrainDataPath string `yaml:"train_data_path"`
		TestDataPath  string `yaml:"test_data_path"`
		ModelName     string `yaml:"model_name"`
	} `yaml:"model_trainer"`
	ModelEvaluation struct {
		RootDir        string `yaml:"root_dir"`
		TestDataPath   string `yaml:"test_data_path"`
		ModelPath      string `yaml:"model_path"`
		MetricFileName string `yaml:"metric_file_name"`
	} `yaml:"model_evaluation"`
}

func readYaml(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: error reading %s: %v", ErrConfiguration, path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: error parsing %s: %v", ErrConfiguration, path, err)
	}
	return nil
}

type required struct {
	key   string
	value string
}

func checkRequired(file string, fields []required) error {
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s is missing required key '%s'", ErrConfiguration, file, f.key)
		}
	}
	return nil
}

// NewManager loads config, params and schema files, validates every required
// key and creates the artifact directories.
func NewManager(configPath, paramsPath, schemaPath string) (*Manager, error) {
	var cfg fileConfig
	if err := readYaml(configPath, &cfg); err != nil {
		return nil, err
	}

	if err := checkRequired(configPath, []required{
		{"artifacts_root", cfg.ArtifactsRoot},
		{"data_ingestion.root_dir", cfg.DataIngestion.RootDir},
		{"data_ingestion.source_URL", cfg.DataIngestion.SourceURL},
		{"data_ingestion.local_data_file", cfg.DataIngestion.LocalDataFile},
		{"data_ingestion.unzip_dir", cfg.DataIngestion.UnzipDir},
		{"data_validation.root_dir", cfg.DataValidation.RootDir},
		{"data_validation.unzip_data_dir", cfg.DataValidation.UnzipDataDir},
		{"data_validation.status_file", cfg.DataValidation.StatusFile},
		{"data_validation.report_file", cfg.DataValidation.ReportFile},
		{"data_transformation.root_dir", cfg.DataTransformation.RootDir},
		{"data_transformation.data_path", cfg.DataTransformation.DataPath},
		{"model_trainer.root_dir", cfg.ModelTrainer.RootDir},
		{"model_trainer.train_data_path", cfg.ModelTrainer.TrainDataPath},
		{"model_trainer.test_data_path", cfg.ModelTrainer.TestDataPath},
		{"model_evaluation.root_dir", cfg.ModelEvaluation.RootDir},
		{"model_evaluation.test_data_path", cfg.ModelEvaluation.TestDataPath},
		{"model_evaluation.model_path", cfg.ModelEvaluation.ModelPath},
		{"model_evaluation.metric_file_name", cfg.ModelEvaluation.MetricFileName},
	}); err != nil {
		return nil, err
	}

	params, err := loadParams(paramsPath)
	if err != nil {
		return nil, err
	}

	schema, err := LoadSchema(schemaPath)
	if err != nil {
		return nil, err
	}

	removeOutliers := true
	if cfg.DataValidation.RemoveOutliers != nil {
		removeOutliers = *cfg.DataValidation.RemoveOutliers
	}

	modelName := cfg.ModelTrainer.ModelName
	if modelName == "" {
		modelName = "best_model.json"
	}

	m := &Manager{
		artifactsRoot: cfg.ArtifactsRoot,
		ingestion: DataIngestionConfig{
			RootDir:       cfg.DataIngestion.RootDir,
			SourceURL:     cfg.DataIngestion.SourceURL,
			LocalDataFile: cfg.DataIngestion.LocalDataFile,
			UnzipDir:      cfg.DataIngestion.UnzipDir,
		},
		validation: DataValidationConfig{
			RootDir:        cfg.DataValidation.RootDir,
			StatusFile:     filepath.Join(cfg.DataValidation.RootDir, cfg.DataValidation.StatusFile),
			DataFile:       cfg.DataValidation.UnzipDataDir,
			ReportFile:     filepath.Join(cfg.DataValidation.RootDir, cfg.DataValidation.ReportFile),
			CleanedFile:    filepath.Join(cfg.DataValidation.RootDir, "cleaned_data.csv"),
			RemoveOutliers: removeOutliers,
		},
		transformation: DataTransformationConfig{
			RootDir:     cfg.DataTransformation.RootDir,
			DataPath:    cfg.DataTransformation.DataPath,
			StatusFile:  filepath.Join(cfg.DataValidation.RootDir, cfg.DataValidation.StatusFile),
			TestSize:    params.Transformation.TestSize,
			RandomState: params.Transformation.RandomState,
		},
		trainer: ModelTrainerConfig{
			RootDir:       cfg.ModelTrainer.RootDir,
			TrainDataPath: cfg.ModelTrainer.TrainDataPath,
			TestDataPath:  cfg.ModelTrainer.TestDataPath,
			ModelName:     modelName,
			TargetColumn:  schema.TargetColumn,
		},
		evaluation: ModelEvaluationConfig{
			RootDir:        cfg.ModelEvaluation.RootDir,
			TestDataPath:   cfg.ModelEvaluation.TestDataPath,
			ModelPath:      cfg.ModelEvaluation.ModelPath,
			MetricFileName: cfg.ModelEvaluation.MetricFileName,
			TargetColumn:   schema.TargetColumn,
		},
		schema: schema,
		search: params.Search,
		models: params.Models,
	}

	for _, dir := range []string{
		m.artifactsRoot,
		m.ingestion.RootDir,
		m.validation.RootDir,
		m.transformation.RootDir,
		m.trainer.RootDir,
		m.evaluation.RootDir,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}

	return m, nil
}

func (m *Manager) ArtifactsRoot() string { return m.artifactsRoot }

func (m *Manager) DataIngestion() DataIngestionConfig { return m.ingestion }

func (m *Manager) DataValidation() DataValidationConfig { return m.validation }

func (m *Manager) DataTransformation() DataTransformationConfig { return m.transformation }

func (m *Manager) ModelTrainer() ModelTrainerConfig { return m.trainer }

// ModelEvaluation also carries the search settings as the parameters logged
// alongside the metrics.
func (m *Manager) ModelEvaluation() ModelEvaluationConfig {
	cfg := m.evaluation
	cfg.Params = m.search.AsParams()
	return cfg
}

func (m *Manager) Schema() Schema { return m.schema.clone() }

func (m *Manager) Search() SearchConfig { return m.search }

func (m *Manager) Models() []ModelSpace {
	out := make([]ModelSpace, len(m.models))
	for i, ms := range m.models {
		out[i] = ms.clone()
	}
	return out
}
