package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/imagegen-be/internal/api/dto"
)

// ListThumbnails handles GET /api/v1/thumbnails
// Returns archived thumbnail records, newest first
func (h *ThumbnailHandler) ListThumbnails(c *gin.Context) {
	records, err := h.thumbs.List()
	if err != nil {
		h.logger.Error("Failed to list thumbnails", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list thumbnails",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thumbnails": records,
	})
}

// DeleteThumbnail handles DELETE /api/v1/thumbnails
// Removes an archived thumbnail and its metadata record
func (h *ThumbnailHandler) DeleteThumbnail(c *gin.Context) {
	var req dto.DeleteThumbnailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "url is required",
		})
		return
	}

	removed, err := h.thumbs.Delete(req.URL)
	if err != nil {
		h.logger.Error("Failed to delete thumbnail",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to delete thumbnail",
		})
		return
	}

	if !removed {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "thumbnail not found",
		})
		return
	}

	h.logger.Info("Thumbnail deleted", slog.String("url", req.URL))
	c.Status(http.StatusNoContent)
}
