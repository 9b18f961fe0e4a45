package imageref

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMIMEForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"photo.PNG", "image/png"},
		{"photo.webp", "image/webp"},
		{"dir/photo.JPEG", "image/jpeg"},
		{"photo.gif", "application/octet-stream"},
		{"photo.bmp", "application/octet-stream"},
		{"noextension", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MIMEForPath(tt.path))
		})
	}
}

func TestEncodeDataURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.png")
	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	uri, err := EncodeDataURI(path)
	require.NoError(t, err)

	want := fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(payload))
	assert.Equal(t, want, uri)
}

func TestEncodeDataURI_UnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	uri, err := EncodeDataURI(path)
	require.NoError(t, err)
	assert.Contains(t, uri, "data:application/octet-stream;base64,")
}

func TestEncodeDataURI_MissingFile(t *testing.T) {
	_, err := EncodeDataURI(filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read image file")
}
