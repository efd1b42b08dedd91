package report

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IliaW/portal-checker/internal/model"
)

// Sink receives the results of a finished suite: result history, event stream, artifact store.
type Sink interface {
	Name() string
	Publish(ctx context.Context, results []*model.CheckResult) error
}

// Publish hands the results to every sink. A failing sink does not stop the others.
func Publish(ctx context.Context, results []*model.CheckResult, sinks []Sink, log *slog.Logger) error {
	var errs []error
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, results); err != nil {
			log.Error("failed to publish results.", slog.String("sink", sink.Name()), slog.String("err", err.Error()))
			errs = append(errs, err)
			continue
		}
		log.Debug("results published.", slog.String("sink", sink.Name()), slog.Int("count", len(results)))
	}

	return errors.Join(errs...)
}
