package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Downloader fetches provider-hosted artifacts. A failed request is returned
// to the caller as is; nothing is retried.
type Downloader struct {
	client *http.Client
}

// NewDownloader constructs a downloader bounded by timeout.
func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// Open issues the GET and returns the response body with its content type.
// Callers must close the body.
func (d *Downloader) Open(ctx context.Context, url string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("media: download %s: %w", url, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media: download: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("media: download status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// Bytes downloads url fully into memory.
func (d *Downloader) Bytes(ctx context.Context, url string) ([]byte, string, error) {
	body, contentType, err := d.Open(ctx, url)
	if err != nil {
		return nil, "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("media: read download: %w", err)
	}
	return data, contentType, nil
}
