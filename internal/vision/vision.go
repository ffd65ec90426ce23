// Package vision talks to the hosted vision and image-generation models.
package vision

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrEmptyResponse is returned when a provider answers without usable content.
var ErrEmptyResponse = errors.New("vision: provider returned no content")

// Analyzer describes images with a hosted vision model.
type Analyzer interface {
	AnalyzeURL(ctx context.Context, imageURL string) (string, error)
	AnalyzeBytes(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Generator renders an image from a text prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Artifact, error)
}

// Artifact is a generated image. Providers either host the result (URL) or
// return it inline (Data).
type Artifact struct {
	URL  string
	Data []byte
	MIME string
}

func detectMime(data []byte, provided string) string {
	mime := strings.TrimSpace(provided)
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !strings.Contains(mime, "image/") {
		return "image/jpeg"
	}
	return mime
}
