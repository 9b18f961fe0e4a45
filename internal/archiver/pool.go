package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/imagegen-be/internal/archiver/domain"
)

// spawnWorkerPool spawns N archiving goroutines
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("worker pool spawned", slog.Int("worker_count", w.concurrency))
}

// workerLoop is the processing loop for one pool goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("worker goroutine stopping", slog.String("worker_name", workerName))
			return

		case <-ctx.Done():
			w.logger.Info("worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName))
			return

		case msg, ok := <-w.eventsChan:
			if !ok {
				return
			}

			err := w.processEvent(ctx, msg.Event)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("no RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Event.JobID),
				)
				continue
			}

			if err != nil {
				w.logger.Error("event processing failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Event.JobID),
					slog.String("error", err.Error()),
				)

				requeue := w.shouldRequeue(err)
				if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("failed to NACK message",
						slog.String("job_id", msg.Event.JobID),
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
				w.logger.Error("failed to ACK message",
					slog.String("job_id", msg.Event.JobID),
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}
}

// shouldRequeue decides the NACK requeue flag from the error type
func (w *Worker) shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrInvalidEvent) {
		return false
	}

	var retryable *domain.RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	return false
}
