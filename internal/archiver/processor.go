package archiver

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/imagegen-be/internal/archiver/domain"
)

// processEvent archives every output image of a completed generation. The
// download path carries its own per-URL retry, so a URL that still fails here
// is treated as lost; the event is only requeued when nothing at all could be
// archived, since requeueing a partially archived event would duplicate the
// outputs that did succeed.
func (w *Worker) processEvent(ctx context.Context, event *domain.GenerationCompletedEvent) error {
	if !event.Archivable() {
		w.logger.Info("skipping non-archivable event",
			slog.String("job_id", event.JobID),
			slog.String("status", event.Status),
		)
		return nil
	}

	archived := 0
	for _, outputURL := range event.Outputs {
		rec, err := w.archiver.Archive(ctx, outputURL, event.Prompt, event.Settings, event.User)
		if err != nil {
			w.logger.Warn("failed to archive output",
				slog.String("job_id", event.JobID),
				slog.String("output_url", outputURL),
				slog.String("error", err.Error()),
			)
			continue
		}

		archived++
		w.logger.Info("output archived",
			slog.String("job_id", event.JobID),
			slog.String("thumbnail_url", rec.URL),
		)
	}

	if archived == 0 {
		return domain.NewRetryableError(domain.ErrAllDownloadsFailed)
	}

	if archived < len(event.Outputs) {
		w.logger.Warn("event partially archived",
			slog.String("job_id", event.JobID),
			slog.Int("archived", archived),
			slog.Int("total", len(event.Outputs)),
		)
	}

	return nil
}
