package handler

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/imagegen-be/internal/api/dto"
)

// allowedUploadExts are the reference image formats accepted for upload
var allowedUploadExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Upload handles POST /api/v1/uploads
// Stores a reference image for use in a later generation request. Uploads
// are transient; the sweep removes them after the configured TTL.
func (h *UploadHandler) Upload(c *gin.Context) {
	h.logger.Info("Upload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	file, err := c.FormFile("image")
	if err != nil {
		h.logger.Error("Missing image file", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "image file is required",
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedUploadExts[ext] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unsupported image format",
		})
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.logger.Error("Failed to create upload dir", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to store upload",
		})
		return
	}

	fileName := uuid.New().String() + ext
	dst := filepath.Join(h.uploadDir, fileName)

	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.logger.Error("Failed to save upload",
			slog.String("file_name", fileName),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to store upload",
		})
		return
	}

	h.logger.Info("Upload stored",
		slog.String("file_name", fileName),
		slog.Int64("size", file.Size),
	)

	c.JSON(http.StatusOK, dto.UploadResponse{
		FileName: fileName,
		Path:     dst,
		Size:     file.Size,
	})
}
