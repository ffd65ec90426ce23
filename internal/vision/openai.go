package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI-backed analyzer and generator.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	VisionModel  string
	VisionPrompt string
	MaxTokens    int
	ImageModel   string
	ImageSize    string
	Timeout      time.Duration
}

// OpenAI implements Analyzer and Generator with the official SDK.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI constructs the client. SDK retries are switched off.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gpt-4-vision-preview"
	}
	if cfg.VisionPrompt == "" {
		cfg.VisionPrompt = "Describe this image in detail."
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "dall-e-3"
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = "1024x1024"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

// AnalyzeURL passes the remote image reference straight to the model.
func (o *OpenAI) AnalyzeURL(ctx context.Context, imageURL string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", fmt.Errorf("vision: empty image URL")
	}
	return o.describe(ctx, imageURL)
}

// AnalyzeBytes sends the image inline as a base64 data URL.
func (o *OpenAI) AnalyzeBytes(ctx context.Context, data []byte, mimeType string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", detectMime(data, mimeType), base64.StdEncoding.EncodeToString(data))
	return o.describe(ctx, dataURL)
}

func (o *OpenAI) describe(ctx context.Context, url string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.cfg.VisionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							{OfText: &openai.ChatCompletionContentPartTextParam{Text: o.cfg.VisionPrompt}},
							{OfImageURL: &openai.ChatCompletionContentPartImageParam{
								ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: url},
							}},
						},
					},
				},
			},
		},
		MaxTokens: openai.Int(int64(o.cfg.MaxTokens)),
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("vision: openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return completion.Choices[0].Message.Content, nil
}

// Generate asks the image model for a single picture.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (Artifact, error) {
	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(o.cfg.ImageModel),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(o.cfg.ImageSize),
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("vision: openai image generation: %w", err)
	}
	if len(resp.Data) == 0 {
		return Artifact{}, ErrEmptyResponse
	}

	img := resp.Data[0]
	if img.URL != "" {
		return Artifact{URL: img.URL, MIME: "image/png"}, nil
	}
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return Artifact{}, fmt.Errorf("vision: decode openai image: %w", err)
		}
		return Artifact{Data: data, MIME: "image/png"}, nil
	}
	return Artifact{}, ErrEmptyResponse
}
