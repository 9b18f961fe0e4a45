package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/imagegen-be/internal/api/model"
	"github.com/cuongbtq/imagegen-be/internal/replicate"
	"github.com/cuongbtq/imagegen-be/internal/results"
	"github.com/cuongbtq/imagegen-be/internal/thumbs"
)

// GenerationRunner submits a generation and polls it to completion
type GenerationRunner interface {
	Run(ctx context.Context, family replicate.Family, req replicate.GenerateRequest) (*replicate.Outcome, error)
}

// EventPublisher publishes completion events for the archiver service
type EventPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// UsageStore records and lists API usage
type UsageStore interface {
	InsertUsageLog(ctx context.Context, log *model.UsageLog) error
	ListUsageLogs(ctx context.Context, limit int) ([]model.UsageLog, error)
}

// ThumbnailArchive lists and deletes archived thumbnails
type ThumbnailArchive interface {
	List() ([]thumbs.Record, error)
	Delete(url string) (bool, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Runner    GenerationRunner
	Store     *results.Store
	Publisher EventPublisher
	Usage     UsageStore
	Thumbs    ThumbnailArchive
	UploadDir string
}

// GenerationHandler handles generation submit, status, and webhook requests
type GenerationHandler struct {
	logger    *slog.Logger
	runner    GenerationRunner
	store     *results.Store
	publisher EventPublisher
	usage     UsageStore
}

// NewGenerationHandler creates a new GenerationHandler instance
func NewGenerationHandler(deps *Dependencies) *GenerationHandler {
	return &GenerationHandler{
		logger:    deps.Logger,
		runner:    deps.Runner,
		store:     deps.Store,
		publisher: deps.Publisher,
		usage:     deps.Usage,
	}
}

// UploadHandler handles reference image uploads
type UploadHandler struct {
	logger    *slog.Logger
	uploadDir string
}

// NewUploadHandler creates a new UploadHandler instance
func NewUploadHandler(deps *Dependencies) *UploadHandler {
	return &UploadHandler{
		logger:    deps.Logger,
		uploadDir: deps.UploadDir,
	}
}

// ThumbnailHandler handles archived thumbnail listing and deletion
type ThumbnailHandler struct {
	logger *slog.Logger
	thumbs ThumbnailArchive
}

// NewThumbnailHandler creates a new ThumbnailHandler instance
func NewThumbnailHandler(deps *Dependencies) *ThumbnailHandler {
	return &ThumbnailHandler{
		logger: deps.Logger,
		thumbs: deps.Thumbs,
	}
}

// UsageHandler handles usage log listing
type UsageHandler struct {
	logger *slog.Logger
	usage  UsageStore
}

// NewUsageHandler creates a new UsageHandler instance
func NewUsageHandler(deps *Dependencies) *UsageHandler {
	return &UsageHandler{
		logger: deps.Logger,
		usage:  deps.Usage,
	}
}
