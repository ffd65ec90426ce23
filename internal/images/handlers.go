package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"visionapi/internal/media"
	"visionapi/internal/vision"
)

const fileField = "file"

// Handler serves the upload, analysis and generation endpoints.
type Handler struct {
	Disk         *media.Disk
	Analyzer     vision.Analyzer
	Generator    vision.Generator
	Downloader   *media.Downloader
	Mirror       media.Uploader
	PromptPrefix int
	Log          zerolog.Logger
}

// Upload handles POST /upload. The client filename is used verbatim.
func (h Handler) Upload(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "file is required", http.StatusUnprocessableEntity)
		return
	}

	part, filename, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "file is required", http.StatusUnprocessableEntity)
		return
	}
	defer part.Close()

	contentType := part.Header.Get("Content-Type")
	log.Info().
		Str("filename", filename).
		Str("content_type", contentType).
		Msg("upload received")

	path, err := h.Disk.Save(r.Context(), filename, part)
	if err != nil {
		h.serverError(w, r, "upload write failed", err)
		return
	}

	h.mirror(r.Context(), log, "uploads", path, contentType)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": path})
}

// Analyze handles POST /analyze with either a JSON image reference or a
// multipart file. Any other content type is rejected before the provider is
// called.
func (h Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		h.analyzeURL(w, r)
	case "multipart/form-data":
		h.analyzeUpload(w, r)
	default:
		http.Error(w, "expected application/json or multipart/form-data", http.StatusBadRequest)
	}
}

func (h Handler) analyzeURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	imageURL := strings.TrimSpace(req.ImageURL)
	if imageURL == "" {
		http.Error(w, "image_url is required", http.StatusBadRequest)
		return
	}
	log := h.logger(r)
	log.Info().Str("image_url", imageURL).Msg("analyze request")

	analysis, err := h.Analyzer.AnalyzeURL(r.Context(), imageURL)
	if err != nil {
		h.serverError(w, r, "analysis failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"analysis": analysis})
}

func (h Handler) analyzeUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	part, filename, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		http.Error(w, "could not read file", http.StatusBadRequest)
		return
	}
	log := h.logger(r)
	log.Info().Str("filename", filename).Msg("analyze request")

	analysis, err := h.Analyzer.AnalyzeBytes(r.Context(), data, part.Header.Get("Content-Type"))
	if err != nil {
		h.serverError(w, r, "analysis failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"analysis": analysis})
}

// Generate handles POST /generate with a JSON or form prompt.
func (h Handler) Generate(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)

	prompt, err := readPrompt(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	log.Info().Str("prompt", prompt).Msg("generate request")

	artifact, err := h.Generator.Generate(r.Context(), prompt)
	if err != nil {
		h.serverError(w, r, "generation failed", err)
		return
	}

	var body io.Reader
	if len(artifact.Data) > 0 {
		body = bytes.NewReader(artifact.Data)
	} else {
		rc, _, err := h.Downloader.Open(r.Context(), artifact.URL)
		if err != nil {
			h.serverError(w, r, "download failed", err)
			return
		}
		defer rc.Close()
		body = rc
	}

	path, err := h.Disk.Save(r.Context(), GeneratedFilename(prompt, h.PromptPrefix), body)
	if err != nil {
		h.serverError(w, r, "generated image write failed", err)
		return
	}

	h.mirror(r.Context(), log, "generated", path, "image/png")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": path, "url": artifact.URL})
}

// Health handles GET /health.
func (h Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) logger(r *http.Request) zerolog.Logger {
	return h.Log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
}

// mirror copies a written file to object storage when configured. Failures
// only get logged.
func (h Handler) mirror(ctx context.Context, log zerolog.Logger, folder, path, contentType string) {
	if h.Mirror == nil {
		return
	}
	result, err := media.MirrorFile(ctx, h.Mirror, folder, path, contentType)
	switch {
	case errors.Is(err, media.ErrUploaderDisabled):
	case err != nil:
		log.Warn().Err(err).Str("path", path).Msg("mirror upload failed")
	default:
		log.Debug().Str("path", path).Str("key", result.Key).Msg("mirrored")
	}
}

func (h Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	log := h.logger(r)
	log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// nextFilePart returns the first part carrying the file field. The filename
// comes straight from Content-Disposition because Part.FileName strips
// directory components.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, string, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, "", fmt.Errorf("missing %s part: %w", fileField, err)
		}
		if part.FormName() != fileField {
			part.Close()
			continue
		}
		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil || params["filename"] == "" {
			part.Close()
			return nil, "", fmt.Errorf("%s part has no filename", fileField)
		}
		return part, params["filename"], nil
	}
}

func readPrompt(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var prompt string
	if mediaType == "application/json" {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", errors.New("invalid request body")
		}
		prompt = req.Prompt
	} else {
		prompt = r.FormValue("prompt")
	}

	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
