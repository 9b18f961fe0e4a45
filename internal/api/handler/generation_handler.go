package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/imagegen-be/internal/api/dto"
	"github.com/cuongbtq/imagegen-be/internal/api/model"
	"github.com/cuongbtq/imagegen-be/internal/archiver/domain"
	"github.com/cuongbtq/imagegen-be/internal/replicate"
	"github.com/cuongbtq/imagegen-be/internal/results"
)

// Generate handles POST /api/v1/generations
// Submits a generation job and polls it to completion before responding
func (h *GenerationHandler) Generate(c *gin.Context) {
	h.logger.Info("Generate called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	family, err := replicate.ParseFamily(req.Model)
	if err != nil {
		h.logger.Error("Unknown model family", slog.String("model", req.Model))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	// Polling takes up to the attempt ceiling; a dropped client connection
	// must not cancel an in-flight generation.
	ctx := context.WithoutCancel(c.Request.Context())

	outcome, err := h.runner.Run(ctx, family, replicate.GenerateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Reference:      req.Reference,
		NumOutputs:     req.NumOutputs,
		InferenceSteps: req.InferenceSteps,
		StartStep:      req.StartStep,
		GuidanceScale:  req.GuidanceScale,
	})

	if outcome == nil {
		status := http.StatusBadGateway
		if isValidationError(err) {
			status = http.StatusBadRequest
		}

		h.logger.Error("Generation rejected",
			slog.String("family", string(family)),
			slog.String("error", err.Error()),
		)

		h.recordUsage(ctx, c, &req, status, nil, err.Error())
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	var becameTerminal bool
	h.store.Update(outcome.JobID, func(job *results.Job) {
		wasTerminal := job.Status.Terminal()

		job.Prompt = req.Prompt
		job.User = results.User{ID: req.User.ID, Name: req.User.Name, Email: req.User.Email}
		job.Status = toResultStatus(outcome.Status)
		job.Outputs = outcome.Outputs
		job.Error = outcome.Err

		becameTerminal = !wasTerminal && job.Status.Terminal()
	})

	job, _ := h.store.Get(outcome.JobID)
	resp := toGenerationResponse(job)

	httpStatus := http.StatusOK
	if errors.Is(err, replicate.ErrPollTimeout) {
		httpStatus = http.StatusGatewayTimeout
	}

	// Publish only on the first terminal transition; a webhook may already
	// have completed the job and emitted the event.
	if becameTerminal {
		h.publishCompletion(ctx, job, generationSettings(&req))
	}

	h.recordUsage(ctx, c, &req, httpStatus, &resp, outcome.Err)

	c.JSON(httpStatus, resp)
}

// GetGeneration handles GET /api/v1/generations/:job_id
func (h *GenerationHandler) GetGeneration(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	job, ok := h.store.Get(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}

	c.JSON(http.StatusOK, toGenerationResponse(job))
}

// Webhook handles POST /api/v1/generations/webhook
// Receives prediction status updates pushed by the generation API
func (h *GenerationHandler) Webhook(c *gin.Context) {
	var payload dto.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Error("Invalid webhook payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid webhook payload",
		})
		return
	}

	h.logger.Info("Webhook received",
		slog.String("job_id", payload.ID),
		slog.String("status", payload.Status),
	)

	status := toResultStatus(replicate.Status(payload.Status))

	var outputs []string
	errMsg := payload.Error

	if replicate.Status(payload.Status) == replicate.StatusSucceeded {
		normalized, err := replicate.NormalizeOutput(payload.Output)
		if err != nil {
			status = results.StatusFailed
			errMsg = err.Error()
		} else {
			outputs = normalized
		}
	}

	var becameTerminal bool
	h.store.Update(payload.ID, func(job *results.Job) {
		wasTerminal := job.Status.Terminal()

		job.Status = status
		if len(outputs) > 0 {
			job.Outputs = outputs
		}
		if errMsg != "" {
			job.Error = errMsg
		}

		becameTerminal = !wasTerminal && job.Status.Terminal()
	})

	// A webhook can complete a job the poll loop gave up on; the archiver
	// still needs the completion event. Jobs already terminal were published
	// by whichever path got there first.
	if becameTerminal {
		job, _ := h.store.Get(payload.ID)
		h.publishCompletion(context.WithoutCancel(c.Request.Context()), job, nil)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// publishCompletion emits the completion event consumed by the archiver.
// Publish failures are logged and swallowed; archiving is best effort.
func (h *GenerationHandler) publishCompletion(ctx context.Context, job results.Job, settings map[string]any) {
	event := domain.GenerationCompletedEvent{
		JobID:       job.ID,
		Status:      string(job.Status),
		Outputs:     job.Outputs,
		Prompt:      job.Prompt,
		Settings:    settings,
		User:        job.User,
		CompletedAt: job.CompletedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal completion event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := h.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		h.logger.Error("Failed to publish completion event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// recordUsage inserts a usage row. Failures never abort the request flow.
func (h *GenerationHandler) recordUsage(ctx context.Context, c *gin.Context, req *dto.GenerateRequest, status int, resp *dto.GenerationResponse, errMsg string) {
	reqBody, _ := json.Marshal(req)

	var respBody []byte
	if resp != nil {
		respBody, _ = json.Marshal(resp)
	}

	log := &model.UsageLog{
		UserID:       req.User.ID,
		UserEmail:    req.User.Email,
		UserName:     req.User.Name,
		Endpoint:     c.Request.URL.Path,
		Method:       c.Request.Method,
		StatusCode:   status,
		RequestBody:  reqBody,
		ResponseBody: respBody,
		ErrorMessage: errMsg,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.usage.InsertUsageLog(ctx, log); err != nil {
		h.logger.Warn("Failed to record usage log",
			slog.String("endpoint", log.Endpoint),
			slog.String("error", err.Error()),
		)
	}
}

// isValidationError reports whether the error is the caller's fault
func isValidationError(err error) bool {
	return errors.Is(err, replicate.ErrPromptRequired) ||
		errors.Is(err, replicate.ErrReferenceRequired) ||
		errors.Is(err, replicate.ErrUnknownFamily)
}

// toResultStatus maps a prediction status to the client-facing job status
func toResultStatus(s replicate.Status) results.Status {
	switch s {
	case replicate.StatusSucceeded:
		return results.StatusCompleted
	case replicate.StatusFailed, replicate.StatusCanceled:
		return results.StatusFailed
	default:
		return results.StatusProcessing
	}
}

func toGenerationResponse(job results.Job) dto.GenerationResponse {
	return dto.GenerationResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		Outputs:     job.Outputs,
		Error:       job.Error,
		Prompt:      job.Prompt,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}

// generationSettings captures the effective request parameters for the
// thumbnail metadata
func generationSettings(req *dto.GenerateRequest) map[string]any {
	settings := map[string]any{
		"model": req.Model,
	}
	if req.Model == "" {
		settings["model"] = string(replicate.FamilyStandard)
	}

	if req.NegativePrompt != "" {
		settings["negative_prompt"] = req.NegativePrompt
	}
	if req.NumOutputs > 0 {
		settings["num_outputs"] = req.NumOutputs
	}
	if req.InferenceSteps > 0 {
		settings["num_inference_steps"] = req.InferenceSteps
	}
	if req.StartStep > 0 {
		settings["start_step"] = req.StartStep
	}
	if req.GuidanceScale > 0 {
		settings["guidance_scale"] = req.GuidanceScale
	}

	return settings
}
