// Package archiver consumes generation-completed events and archives the
// output images as local thumbnails.
package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cuongbtq/imagegen-be/internal/archiver/domain"
	"github.com/cuongbtq/imagegen-be/internal/thumbs"
	"github.com/cuongbtq/imagegen-be/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Archiver      *thumbs.Archiver
	Concurrency   int
	PrefetchCount int
}

// Worker consumes completion events from RabbitMQ and dispatches them to a
// pool of archiving goroutines.
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	archiver      *thumbs.Archiver
	concurrency   int
	prefetchCount int
	workerID      string

	eventsChan chan *domain.EventMessage
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		archiver:      cfg.Archiver,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		workerID:      "archiver-" + uuid.New().String()[:8],
		eventsChan:    make(chan *domain.EventMessage, concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming events. It blocks until the context is canceled or
// the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting archiver worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker pool
func (w *Worker) Stop() {
	w.logger.Info("stopping archiver worker", slog.String("worker_id", w.workerID))
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("archiver worker stopped", slog.String("worker_id", w.workerID))
}
