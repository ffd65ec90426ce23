package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// fallbackOpenAIKey is used when OPENAI_API_KEY is unset.
const fallbackOpenAIKey = "sk-proj-FAKE-IMAGE-1234567890abcdefghijklmnop"

// writeMargin is added to two provider timeouts for the default write timeout.
const writeMargin = 30 * time.Second

// Config holds runtime configuration values.
type Config struct {
	AppEnv       string
	Port         string
	UploadDir    string
	PromptPrefix int

	VisionProvider string
	ImageProvider  string

	OpenAI OpenAIConfig
	Gemini GeminiConfig
	Vertex VertexConfig
	Media  MediaConfig

	// ReadTimeout covers the request body as well as headers. Zero disables it.
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	// WriteTimeout defaults to two provider round trips (generation plus
	// download) and a margin.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ProviderTimeout time.Duration
}

// OpenAIConfig configures the OpenAI vision and image endpoints.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	VisionModel     string
	VisionPrompt    string
	VisionMaxTokens int
	ImageModel      string
	ImageSize       string
}

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey      string
	VisionModel string
	ImageModel  string
}

// VertexConfig configures Imagen on Vertex AI.
type VertexConfig struct {
	ProjectID       string
	Location        string
	ImageModel      string
	CredentialsFile string
}

// MediaConfig describes the optional S3 mirror.
type MediaConfig struct {
	Bucket         string
	Region         string
	Endpoint       string
	PublicURL      string
	KeyPrefix      string
	ForcePathStyle bool
}

// Enabled reports whether enough is configured to talk to a bucket.
func (m MediaConfig) Enabled() bool {
	return m.Bucket != "" && m.Region != ""
}

// Load reads the optional env files and then the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return FromEnv()
}

// FromEnv loads configuration from environment variables and applies defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		AppEnv:         getenv("APP_ENV", "development"),
		Port:           getenv("APP_PORT", "8080"),
		UploadDir:      getenv("UPLOAD_DIR", "uploads"),
		PromptPrefix:   getenvInt("PROMPT_PREFIX_LEN", 50),
		VisionProvider: strings.ToLower(getenv("VISION_PROVIDER", "openai")),
		ImageProvider:  strings.ToLower(getenv("IMAGE_PROVIDER", "openai")),
		OpenAI: OpenAIConfig{
			APIKey:          getenv("OPENAI_API_KEY", fallbackOpenAIKey),
			BaseURL:         os.Getenv("OPENAI_BASE_URL"),
			VisionModel:     getenv("VISION_MODEL", "gpt-4-vision-preview"),
			VisionPrompt:    getenv("VISION_PROMPT", "Describe this image in detail."),
			VisionMaxTokens: getenvInt("VISION_MAX_TOKENS", 500),
			ImageModel:      getenv("IMAGE_MODEL", "dall-e-3"),
			ImageSize:       getenv("IMAGE_SIZE", "1024x1024"),
		},
		Gemini: GeminiConfig{
			APIKey:      os.Getenv("GEMINI_API_KEY"),
			VisionModel: getenv("GEMINI_VISION_MODEL", "gemini-2.5-flash"),
			ImageModel:  getenv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		},
		Vertex: VertexConfig{
			ProjectID:       os.Getenv("VERTEX_PROJECT"),
			Location:        getenv("VERTEX_LOCATION", "us-central1"),
			ImageModel:      getenv("VERTEX_IMAGE_MODEL", "imagen-3.0-generate-002"),
			CredentialsFile: os.Getenv("VERTEX_CREDENTIALS_FILE"),
		},
		Media: MediaConfig{
			Bucket:         os.Getenv("S3_BUCKET"),
			Region:         os.Getenv("S3_REGION"),
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicURL:      os.Getenv("S3_PUBLIC_URL"),
			KeyPrefix:      strings.Trim(os.Getenv("S3_KEY_PREFIX"), "/"),
			ForcePathStyle: getenvBool("S3_FORCE_PATH_STYLE", false),
		},
		ReadTimeout:       getenvDuration("HTTP_READ_TIMEOUT", 0),
		ReadHeaderTimeout: getenvDuration("HTTP_READ_HEADER_TIMEOUT", 15*time.Second),
		IdleTimeout:       getenvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ProviderTimeout:   getenvDuration("PROVIDER_TIMEOUT", 90*time.Second),
	}
	cfg.WriteTimeout = getenvDuration("HTTP_WRITE_TIMEOUT", 2*cfg.ProviderTimeout+writeMargin)

	if cfg.PromptPrefix <= 0 {
		return Config{}, fmt.Errorf("config: PROMPT_PREFIX_LEN must be positive, got %d", cfg.PromptPrefix)
	}
	switch cfg.VisionProvider {
	case "openai", "gemini":
	default:
		return Config{}, fmt.Errorf("config: unknown VISION_PROVIDER %q", cfg.VisionProvider)
	}
	switch cfg.ImageProvider {
	case "openai", "gemini", "vertex":
	default:
		return Config{}, fmt.Errorf("config: unknown IMAGE_PROVIDER %q", cfg.ImageProvider)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}

	return parsed
}

func getenvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}

	return parsed
}

// getenvDuration accepts Go durations ("90s") or plain seconds ("90").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
