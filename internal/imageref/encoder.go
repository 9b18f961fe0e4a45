// Package imageref turns local image files into references the generation
// API can consume: either a publicly fetchable URL or an embedded data URI.
package imageref

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fallbackMIME is used for extensions outside the recognized set
const fallbackMIME = "application/octet-stream"

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// MIMEForPath resolves the MIME type from the file extension
func MIMEForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := mimeByExt[ext]; ok {
		return mime
	}
	return fallbackMIME
}

// EncodeDataURI reads a local file and returns a self-contained data URI
// carrying the MIME type and base64 payload. It needs no network access and
// fails only on file-read errors.
func EncodeDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image file: %w", err)
	}

	return fmt.Sprintf("data:%s;base64,%s", MIMEForPath(path), base64.StdEncoding.EncodeToString(data)), nil
}
