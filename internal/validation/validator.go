package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"mlops-pipeline/internal/config"
	"mlops-pipeline/internal/dataset"

	"gopkg.in/yaml.v2"
)

// ReportRecorder receives every written report. Recording is best effort.
type ReportRecorder interface {
	RecordValidation(ctx context.Context, report Report) error
}

type Validator struct {
	config   config.DataValidationConfig
	schema   config.Schema
	recorder ReportRecorder
	logger   *slog.Logger
}

func NewValidator(cfg config.DataValidationConfig, schema config.Schema) *Validator {
	return &Validator{config: cfg, schema: schema, logger: slog.Default()}
}

func (v *Validator) WithLogger(logger *slog.Logger) *Validator {
	v.logger = logger
	return v
}

func (v *Validator) WithRecorder(recorder ReportRecorder) *Validator {
	v.recorder = recorder
	return v
}

// Run validates the configured data file and reports whether it passed.
func (v *Validator) Run(removeOutliers bool) bool {
	return v.RunContext(context.Background(), removeOutliers)
}

// RunContext validates the data file, writes the cleaned data, the status
// file and the report, and returns true iff no errors were found. Failures
// are recorded in the report rather than returned.
func (v *Validator) RunContext(ctx context.Context, removeOutliers bool) bool {
	v.logger.Info("starting data validation", "file", v.config.DataFile)

	report := &Report{}
	if err := v.validate(report, removeOutliers); err != nil {
		v.logger.Error("unexpected error during validation", "error", err)
		report.Errors = append(report.Errors, err.Error())
	}
	report.finalize()

	if report.Success() {
		v.logger.Info("data validation completed successfully", "warnings", len(report.Warnings))
	} else {
		v.logger.Error("data validation failed", "errors", report.Errors)
	}

	if err := v.write(*report); err != nil {
		v.logger.Error("error writing validation report", "error", err)
		report.Errors = append(report.Errors, err.Error())
		report.finalize()
	}

	if v.recorder != nil {
		if err := v.recorder.RecordValidation(ctx, *report); err != nil {
			v.logger.Warn("error recording validation report", "error", err)
		}
	}

	return report.Success()
}

func (v *Validator) validate(report *Report, removeOutliers bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during validation: %v", r)
		}
	}()

	if _, err := os.Stat(v.config.DataFile); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("Data file not found: %s", v.config.DataFile)
	}

	frame, err := dataset.ReadCSV(v.config.DataFile)
	if err != nil {
		return err
	}

	report.Errors = append(report.Errors, ValidateSchema(frame, v.schema)...)
	report.Errors = append(report.Errors, MissingValues(frame)...)

	drop := make(map[int]bool)
	for _, column := range frame.NumericColumns() {
		outliers, indices := DetectOutliers(frame, column)
		if len(outliers) == 0 {
			continue
		}
		c, _ := frame.Column(column)
		report.Warnings = append(report.Warnings, fmt.Sprintf("Column '%s' has %d potential outliers", column, len(outliers)))
		flagged := ColumnOutliers{Column: column, Kind: c.Kind, Values: outliers}
		if c.Kind == dataset.Int64 {
			flagged.Ints = make(map[int]int64, len(outliers))
			for i, row := range frame.Index() {
				if _, ok := outliers[row]; ok {
					flagged.Ints[row] = c.Int(i)
				}
			}
		}
		report.Outliers = append(report.Outliers, flagged)
		for _, idx := range indices {
			drop[idx] = true
		}
	}

	if removeOutliers && len(drop) > 0 {
		v.logger.Info("removing outlier rows", "rows", len(drop))
		frame = frame.DropRows(drop)
	}

	if err := os.MkdirAll(v.config.RootDir, 0755); err != nil {
		return fmt.Errorf("error creating %s: %w", v.config.RootDir, err)
	}
	if err := frame.WriteCSV(v.config.CleanedFile); err != nil {
		return err
	}
	v.logger.Info("cleaned data saved", "path", v.config.CleanedFile)
	report.CleanedFile = v.config.CleanedFile

	return nil
}

func (v *Validator) write(report Report) error {
	if err := os.MkdirAll(v.config.RootDir, 0755); err != nil {
		return fmt.Errorf("error creating %s: %w", v.config.RootDir, err)
	}

	if err := os.WriteFile(v.config.StatusFile, []byte(report.Status), 0644); err != nil {
		return fmt.Errorf("error writing status file: %w", err)
	}

	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("error encoding validation report: %w", err)
	}
	if err := os.WriteFile(v.config.ReportFile, data, 0644); err != nil {
		return fmt.Errorf("error writing validation report: %w", err)
	}
	return nil
}

// ReadStatus returns the status token written by a previous run.
func ReadStatus(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading validation status: %w", err)
	}
	return string(data), nil
}
