package vision

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"visionapi/internal/media"
)

// GeminiConfig configures the Gemini analyzer and generator.
type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	VisionModel  string
	ImageModel   string
	VisionPrompt string
	Timeout      time.Duration
}

// Gemini implements Analyzer and Generator through the Gemini API.
type Gemini struct {
	client     *genai.Client
	cfg        GeminiConfig
	downloader *media.Downloader
}

// NewGemini builds a Gemini client. Image URLs handed to AnalyzeURL are
// fetched with downloader and sent inline.
func NewGemini(ctx context.Context, cfg GeminiConfig, downloader *media.Downloader) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("vision: gemini api key is required")
	}
	cfg.VisionModel = strings.TrimPrefix(strings.TrimSpace(cfg.VisionModel), "models/")
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gemini-2.5-flash"
	}
	cfg.ImageModel = strings.TrimPrefix(strings.TrimSpace(cfg.ImageModel), "models/")
	if cfg.ImageModel == "" {
		cfg.ImageModel = "gemini-2.5-flash-image"
	}
	if cfg.VisionPrompt == "" {
		cfg.VisionPrompt = "Describe this image in detail."
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if downloader == nil {
		downloader = media.NewDownloader(cfg.Timeout)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("vision: create genai client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg, downloader: downloader}, nil
}

// AnalyzeURL downloads the image and describes it.
func (g *Gemini) AnalyzeURL(ctx context.Context, imageURL string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", fmt.Errorf("vision: empty image URL")
	}
	data, mimeType, err := g.downloader.Bytes(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("vision: fetch image: %w", err)
	}
	return g.AnalyzeBytes(ctx, data, mimeType)
}

// AnalyzeBytes describes inline image data.
func (g *Gemini) AnalyzeBytes(ctx context.Context, data []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: g.cfg.VisionPrompt},
				{InlineData: &genai.Blob{MIMEType: detectMime(data, mimeType), Data: data}},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.VisionModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("vision: gemini generate content: %w", err)
	}
	return candidateText(resp)
}

// Generate renders an image; Gemini returns it inline.
func (g *Gemini) Generate(ctx context.Context, prompt string) (Artifact, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.ImageModel, genai.Text(prompt), nil)
	if err != nil {
		return Artifact{}, fmt.Errorf("vision: gemini render: %w", err)
	}
	return inlineImage(resp)
}

func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if trimmed := strings.TrimSpace(part.Text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.Join(parts, "\n\n"), nil
}

func inlineImage(resp *genai.GenerateContentResponse) (Artifact, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Artifact{}, ErrEmptyResponse
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if strings.TrimSpace(mime) == "" {
			mime = "image/png"
		}
		return Artifact{Data: part.InlineData.Data, MIME: mime}, nil
	}
	return Artifact{}, ErrEmptyResponse
}
