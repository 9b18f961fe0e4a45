package archiver

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/imagegen-be/internal/archiver/domain"
	"github.com/cuongbtq/imagegen-be/internal/thumbs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := imaging.New(4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func newTestWorker(t *testing.T) (*Worker, *thumbs.Archiver) {
	t.Helper()

	dir := t.TempDir()
	archiver := thumbs.NewArchiver(&thumbs.Config{
		Dir:              dir,
		PublicPrefix:     "/thumbnails",
		Metadata:         thumbs.NewMetadataFile(filepath.Join(dir, "thumbnails.json")),
		Logger:           testLogger(),
		DownloadAttempts: 1,
		DownloadBackoff:  time.Millisecond,
	})

	w := NewWorker(&Config{
		Logger:   testLogger(),
		Archiver: archiver,
	})

	return w, archiver
}

func completedEvent(outputs ...string) *domain.GenerationCompletedEvent {
	return &domain.GenerationCompletedEvent{
		JobID:       "pred-1",
		Status:      "completed",
		Outputs:     outputs,
		Prompt:      "a cat",
		CompletedAt: time.Now().UTC(),
	}
}

func TestProcessEvent_ArchivesAllOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes(t))
	}))
	defer srv.Close()

	w, archiver := newTestWorker(t)

	err := w.processEvent(context.Background(), completedEvent(srv.URL+"/a.png", srv.URL+"/b.png"))
	require.NoError(t, err)

	records, err := archiver.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestProcessEvent_AllDownloadsFailedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w, _ := newTestWorker(t)

	err := w.processEvent(context.Background(), completedEvent(srv.URL+"/a.png"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllDownloadsFailed)
	assert.True(t, w.shouldRequeue(err))
}

func TestProcessEvent_PartialFailureStillAcks(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/broken.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(pngBytes(t))
	}))
	defer srv.Close()

	w, archiver := newTestWorker(t)

	err := w.processEvent(context.Background(), completedEvent(srv.URL+"/a.png", srv.URL+"/broken.png"))
	require.NoError(t, err)

	records, err := archiver.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestProcessEvent_SkipsFailedGeneration(t *testing.T) {
	w, archiver := newTestWorker(t)

	event := &domain.GenerationCompletedEvent{JobID: "pred-1", Status: "failed"}

	err := w.processEvent(context.Background(), event)
	require.NoError(t, err)

	records, err := archiver.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestShouldRequeue(t *testing.T) {
	w, _ := newTestWorker(t)

	assert.False(t, w.shouldRequeue(domain.ErrInvalidEvent))
	assert.False(t, w.shouldRequeue(errors.New("unknown")))
	assert.True(t, w.shouldRequeue(domain.NewRetryableError(errors.New("transient"))))
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   domain.GenerationCompletedEvent
		wantErr bool
	}{
		{
			name:  "valid completed event",
			event: domain.GenerationCompletedEvent{JobID: "pred-1", Status: "completed", Outputs: []string{"https://replicate.delivery/a.png"}},
		},
		{
			name:  "failed event without outputs",
			event: domain.GenerationCompletedEvent{JobID: "pred-1", Status: "failed"},
		},
		{name: "missing job id", event: domain.GenerationCompletedEvent{Status: "completed"}, wantErr: true},
		{name: "missing status", event: domain.GenerationCompletedEvent{JobID: "pred-1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidEvent)
				return
			}
			assert.NoError(t, err)
		})
	}
}
