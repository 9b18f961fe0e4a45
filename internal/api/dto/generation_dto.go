package dto

import (
	"encoding/json"
	"time"
)

// GenerateRequest is the submit-generation request body. Model selects the
// family ("standard", "control", "character"); empty means standard.
type GenerateRequest struct {
	Prompt         string  `json:"prompt" binding:"required"`
	NegativePrompt string  `json:"negative_prompt"`
	Model          string  `json:"model"`
	Reference      string  `json:"reference"`
	NumOutputs     int     `json:"num_outputs"`
	InferenceSteps int     `json:"num_inference_steps"`
	StartStep      int     `json:"start_step"`
	GuidanceScale  float64 `json:"guidance_scale"`
	User           UserDTO `json:"user"`
}

// UserDTO identifies the requesting user for usage attribution
type UserDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GenerationResponse is the job status representation returned to clients
type GenerationResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	Outputs     []string  `json:"outputs,omitempty"`
	Error       string    `json:"error,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// WebhookPayload is the prediction status update posted by the generation API
type WebhookPayload struct {
	ID     string          `json:"id" binding:"required"`
	Status string          `json:"status" binding:"required"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// UploadResponse describes a stored reference upload
type UploadResponse struct {
	FileName string `json:"file_name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// DeleteThumbnailRequest names the archived thumbnail to remove
type DeleteThumbnailRequest struct {
	URL string `json:"url" binding:"required"`
}

// UsageLogDTO is one usage record returned by the usage listing
type UsageLogDTO struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	UserName     string    `json:"user_name,omitempty"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"status_code"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
