package tracking

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

var ErrSinkUnavailable = errors.New("tracking sink unavailable")

// Run is one experiment run: the params that produced a model and the
// metrics it scored.
type Run struct {
	Experiment string
	Name       string
	Params     map[string]string
	Metrics    map[string]float64
}

type Sink interface {
	LogRun(ctx context.Context, run Run) error
}

type NopSink struct{}

func (NopSink) LogRun(context.Context, Run) error { return nil }

// MultiSink logs to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) LogRun(ctx context.Context, run Run) error {
	var errs []error
	for _, sink := range m {
		if err := sink.LogRun(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExperimentName appends a short random suffix to prefix so repeated runs
// land in distinct experiments.
func ExperimentName(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + id[:6]
}

// Report logs run to sink. Failures are logged and never returned.
func Report(ctx context.Context, logger *slog.Logger, sink Sink, run Run) {
	if sink == nil {
		return
	}
	if err := sink.LogRun(ctx, run); err != nil {
		logger.Warn("unable to report run to tracking sink", "experiment", run.Experiment, "run", run.Name, "error", err)
		return
	}
	logger.Info("reported run to tracking sink", "experiment", run.Experiment, "run", run.Name)
}
