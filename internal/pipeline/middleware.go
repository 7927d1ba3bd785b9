package pipeline

import (
	"log/slog"
	"time"

	"github.com/arcwave/arbicore/internal/domain"
)

// Middleware observes or annotates a record after every stage runs, in
// registration order. It never aborts the pipeline.
type Middleware func(rec *domain.PipelineRecord)

// LoggingMiddleware logs stage progress at INFO.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(rec *domain.PipelineRecord) {
		logger.Info("pipeline: stage complete",
			slog.String("record_id", rec.ID),
			slog.String("stage", string(rec.Stage)),
			slog.Bool("success", rec.Success),
		)
	}
}

// TimingMiddleware is a no-op annotator; stage timings are recorded by the
// runner itself into rec.Metadata.StageTimings before middleware runs. It
// exists as an explicit, swappable hook alongside the stage-progress logger
// so the two default middlewares stay paired and independently replaceable.
func TimingMiddleware() Middleware {
	return func(rec *domain.PipelineRecord) {
		if rec.Metadata.StageTimings == nil {
			rec.Metadata.StageTimings = make(map[domain.Stage]time.Duration)
		}
	}
}
