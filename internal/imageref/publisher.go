package imageref

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Reference is an image reference usable by the generation API: a public URL
// when hosting succeeded, otherwise an embedded data URI.
type Reference struct {
	URL     string `json:"url,omitempty"`
	DataURI string `json:"data_uri,omitempty"`
}

// Value returns the usable reference string
func (r Reference) Value() string {
	if r.URL != "" {
		return r.URL
	}
	return r.DataURI
}

// Embedded reports whether the reference carries embedded image data
func (r Reference) Embedded() bool {
	return r.URL == ""
}

// Host describes one external image-hosting upload endpoint
type Host struct {
	Name      string
	UploadURL string
	APIKey    string
}

// Publisher obtains a publicly fetchable URL for a local file, trying each
// configured host in order and degrading to an embedded data URI when every
// hosting attempt fails. It never errors past the final fallback.
type Publisher struct {
	hosts         []Host
	client        *http.Client
	logger        *slog.Logger
	verifyTimeout time.Duration
	verifyRetries int
	verifyDelay   time.Duration
}

// NewPublisher creates a Publisher over the given hosts. Hosts with an empty
// upload URL are skipped.
func NewPublisher(hosts []Host, verifyTimeout time.Duration, verifyRetries int, logger *slog.Logger) *Publisher {
	configured := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if h.UploadURL != "" {
			configured = append(configured, h)
		}
	}

	if verifyTimeout <= 0 {
		verifyTimeout = 5 * time.Second
	}

	return &Publisher{
		hosts:         configured,
		client:        &http.Client{},
		logger:        logger,
		verifyTimeout: verifyTimeout,
		verifyRetries: verifyRetries,
		verifyDelay:   500 * time.Millisecond,
	}
}

// Publish resolves a local file into a Reference. Hosting failures are logged
// and absorbed; the only error condition is the file itself being unreadable.
func (p *Publisher) Publish(ctx context.Context, path string) (Reference, error) {
	for _, host := range p.hosts {
		url, err := p.upload(ctx, host, path)
		if err != nil {
			p.logger.Warn("Image host upload failed",
				slog.String("host", host.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		if !p.verify(ctx, url) {
			p.logger.Warn("Uploaded image URL is not reachable",
				slog.String("host", host.Name),
				slog.String("url", url),
			)
			continue
		}

		return Reference{URL: url}, nil
	}

	uri, err := EncodeDataURI(path)
	if err != nil {
		return Reference{}, err
	}

	p.logger.Warn("All image hosts failed, falling back to embedded image data",
		slog.String("path", path),
	)

	return Reference{DataURI: uri}, nil
}

// hostResponse covers the response shapes of the supported hosts
type hostResponse struct {
	URL  string `json:"url"`
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
	Image struct {
		URL string `json:"url"`
	} `json:"image"`
}

func (p *Publisher) upload(ctx context.Context, host Host, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if host.APIKey != "" {
		if err := writer.WriteField("key", host.APIKey); err != nil {
			return "", fmt.Errorf("failed to write api key field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to copy file into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host.UploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}

	var parsed hostResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	switch {
	case parsed.URL != "":
		return parsed.URL, nil
	case parsed.Data.URL != "":
		return parsed.Data.URL, nil
	case parsed.Image.URL != "":
		return parsed.Image.URL, nil
	}

	return "", fmt.Errorf("upload response contains no url")
}

// verify checks the uploaded URL is reachable within the verify timeout
func (p *Publisher) verify(ctx context.Context, url string) bool {
	for attempt := 0; attempt <= p.verifyRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.verifyDelay)
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.verifyTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return false
		}

		resp, err := p.client.Do(req)
		cancel()
		if err != nil {
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode < http.StatusBadRequest {
			return true
		}
	}

	return false
}
