package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/imagegen-be/internal/api/dto"
)

const (
	defaultUsagePageSize = 20
	maxUsagePageSize     = 100
)

// ListUsage handles GET /api/v1/usage
// Returns recent usage records, newest first
func (h *UsageHandler) ListUsage(c *gin.Context) {
	limit := defaultUsagePageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	if limit > maxUsagePageSize {
		limit = maxUsagePageSize
	}

	logs, err := h.usage.ListUsageLogs(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list usage logs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list usage logs",
		})
		return
	}

	response := make([]dto.UsageLogDTO, len(logs))
	for i, log := range logs {
		response[i] = dto.UsageLogDTO{
			ID:           log.ID,
			UserID:       log.UserID,
			UserEmail:    log.UserEmail,
			UserName:     log.UserName,
			Endpoint:     log.Endpoint,
			Method:       log.Method,
			StatusCode:   log.StatusCode,
			ErrorMessage: log.ErrorMessage,
			CreatedAt:    log.CreatedAt,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"usage": response,
	})
}
