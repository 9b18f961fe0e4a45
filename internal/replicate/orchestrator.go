package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/imagegen-be/internal/imageref"
)

// ErrPollTimeout is returned when a prediction does not reach a terminal
// state within the polling attempt ceiling
var ErrPollTimeout = errors.New("generation timed out")

// genericFailureMessage is surfaced when the remote API fails a prediction
// without providing an error message
const genericFailureMessage = "image generation failed"

// API is the prediction API contract used by the orchestrator
type API interface {
	Create(ctx context.Context, version string, input map[string]any, webhook string) (*Prediction, error)
	Get(ctx context.Context, id string) (*Prediction, error)
}

// ReferenceResolver turns a local file into a remotely usable image reference
type ReferenceResolver interface {
	Publish(ctx context.Context, path string) (imageref.Reference, error)
}

// Outcome is the terminal result of one orchestrated generation
type Outcome struct {
	JobID   string
	Status  Status
	Outputs []string
	Err     string
}

// Orchestrator submits generation jobs with model-family input shaping and
// polls until the job reaches a terminal state or the attempt ceiling.
type Orchestrator struct {
	api          API
	resolver     ReferenceResolver
	versions     map[string]string
	webhookURL   string
	pollInterval time.Duration
	maxAttempts  int
	logger       *slog.Logger
}

// Config holds orchestrator settings
type Config struct {
	API          API
	Resolver     ReferenceResolver
	Versions     map[string]string // family name -> model version
	WebhookURL   string
	PollInterval time.Duration
	MaxAttempts  int
	Logger       *slog.Logger
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(cfg *Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 300
	}

	return &Orchestrator{
		api:          cfg.API,
		resolver:     cfg.Resolver,
		versions:     cfg.Versions,
		webhookURL:   cfg.WebhookURL,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		logger:       cfg.Logger,
	}
}

// Run submits a generation request and polls it to completion
func (o *Orchestrator) Run(ctx context.Context, family Family, req GenerateRequest) (*Outcome, error) {
	version, ok := o.versions[string(family)]
	if !ok {
		return nil, fmt.Errorf("no model version configured for family %q", family)
	}

	ref, err := o.resolveReference(ctx, family, req)
	if err != nil {
		return nil, err
	}

	input, err := BuildInput(family, req, ref)
	if err != nil {
		return nil, err
	}

	p, err := o.api.Create(ctx, version, input, o.webhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to submit generation: %w", err)
	}

	o.logger.Info("Generation submitted",
		slog.String("job_id", p.ID),
		slog.String("family", string(family)),
		slog.String("status", string(p.Status)),
	)

	if p.Status.Terminal() {
		return o.outcome(p)
	}

	return o.poll(ctx, p)
}

// resolveReference publishes a local reference file when the family needs one
func (o *Orchestrator) resolveReference(ctx context.Context, family Family, req GenerateRequest) (string, error) {
	if !family.NeedsReference() {
		return "", nil
	}

	if req.Reference == "" {
		return "", ErrReferenceRequired
	}

	if !isLocalPath(req.Reference) {
		return req.Reference, nil
	}

	ref, err := o.resolver.Publish(ctx, req.Reference)
	if err != nil {
		return "", fmt.Errorf("failed to resolve reference image: %w", err)
	}

	if ref.Embedded() {
		// Control and character models document a URL-based reference; the
		// embedded fallback may or may not be accepted by the remote model.
		o.logger.Warn("Using embedded image data for a reference-based model family",
			slog.String("family", string(family)),
		)
	}

	return ref.Value(), nil
}

// poll re-fetches job status once per poll interval up to the attempt
// ceiling. A transient fetch error does not abort the loop.
func (o *Orchestrator) poll(ctx context.Context, p *Prediction) (*Outcome, error) {
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		time.Sleep(o.pollInterval)

		cur, err := o.api.Get(ctx, p.ID)
		if err != nil {
			o.logger.Warn("Transient error polling prediction status",
				slog.String("job_id", p.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		p = cur
		if p.Status.Terminal() {
			return o.outcome(p)
		}
	}

	o.logger.Error("Generation did not finish within the polling ceiling",
		slog.String("job_id", p.ID),
		slog.Int("max_attempts", o.maxAttempts),
	)

	return &Outcome{
		JobID:  p.ID,
		Status: p.Status,
		Err:    "generation timed out before completing",
	}, ErrPollTimeout
}

// outcome converts a terminal prediction into an Outcome
func (o *Orchestrator) outcome(p *Prediction) (*Outcome, error) {
	switch p.Status {
	case StatusSucceeded:
		outputs, err := NormalizeOutput(p.Output)
		if err != nil {
			o.logger.Error("Succeeded prediction has no usable output",
				slog.String("job_id", p.ID),
			)
			return &Outcome{
				JobID:  p.ID,
				Status: StatusFailed,
				Err:    ErrNoOutput.Error(),
			}, err
		}

		return &Outcome{
			JobID:   p.ID,
			Status:  StatusSucceeded,
			Outputs: outputs,
		}, nil

	default:
		msg := p.Error
		if msg == "" {
			msg = genericFailureMessage
		}

		o.logger.Error("Generation failed",
			slog.String("job_id", p.ID),
			slog.String("status", string(p.Status)),
			slog.String("error", msg),
		)

		return &Outcome{
			JobID:  p.ID,
			Status: p.Status,
			Err:    msg,
		}, nil
	}
}

// isLocalPath reports whether the reference names a local file rather than a
// URL or data URI
func isLocalPath(ref string) bool {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return false
	}

	_, err := os.Stat(ref)
	return err == nil
}
