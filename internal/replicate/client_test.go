package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestClient_Create(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/predictions", r.URL.Path)
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))

		var body createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "owner/model:abc", body.Version)
		assert.Equal(t, "a cat", body.Input["prompt"])

		fmt.Fprint(w, `{"id":"pred-1","status":"starting"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", time.Second, testLogger())

	p, err := c.Create(context.Background(), "owner/model:abc", map[string]any{"prompt": "a cat"}, "")
	require.NoError(t, err)
	assert.Equal(t, "pred-1", p.ID)
	assert.Equal(t, StatusStarting, p.Status)
}

func TestClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predictions/pred-1", r.URL.Path)
		fmt.Fprint(w, `{"id":"pred-1","status":"succeeded","output":["https://replicate.delivery/out.png"]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", time.Second, testLogger())

	p, err := c.Get(context.Background(), "pred-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, p.Status)
	assert.True(t, p.Status.Terminal())
}

func TestClient_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"detail":"invalid version"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", time.Second, testLogger())

	_, err := c.Create(context.Background(), "bad", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusStarting.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}

func TestNormalizeOutput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "single reference",
			raw:  `"https://replicate.delivery/a.png"`,
			want: []string{"https://replicate.delivery/a.png"},
		},
		{
			name: "list of references",
			raw:  `["https://replicate.delivery/a.png","https://replicate.delivery/b.png"]`,
			want: []string{"https://replicate.delivery/a.png", "https://replicate.delivery/b.png"},
		},
		{
			name: "object with image field",
			raw:  `{"image":"https://replicate.delivery/a.png"}`,
			want: []string{"https://replicate.delivery/a.png"},
		},
		{
			name: "object with images field",
			raw:  `{"images":["https://replicate.delivery/a.png","https://replicate.delivery/b.png"]}`,
			want: []string{"https://replicate.delivery/a.png", "https://replicate.delivery/b.png"},
		},
		{
			name: "list preserves order",
			raw:  `["c","a","b"]`,
			want: []string{"c", "a", "b"},
		},
		{name: "null output", raw: `null`, wantErr: true},
		{name: "empty raw", raw: ``, wantErr: true},
		{name: "empty string", raw: `""`, wantErr: true},
		{name: "empty list", raw: `[]`, wantErr: true},
		{name: "object with no image fields", raw: `{"seed":42}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeOutput(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNoOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
