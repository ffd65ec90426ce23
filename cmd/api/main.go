package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visionapi/internal/config"
	"visionapi/internal/images"
	"visionapi/internal/logging"
	"visionapi/internal/media"
	"visionapi/internal/server"
	"visionapi/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.AppEnv, os.Stdout)

	ctx := context.Background()

	disk, err := media.NewDisk(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init upload dir")
	}
	downloader := media.NewDownloader(cfg.ProviderTimeout)

	mirror, err := media.NewS3Uploader(ctx, media.S3Config{
		Bucket:         cfg.Media.Bucket,
		Region:         cfg.Media.Region,
		Endpoint:       cfg.Media.Endpoint,
		PublicURL:      cfg.Media.PublicURL,
		KeyPrefix:      cfg.Media.KeyPrefix,
		ForcePathStyle: cfg.Media.ForcePathStyle,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init media mirror")
	}
	if cfg.Media.Enabled() {
		logger.Info().Str("bucket", cfg.Media.Bucket).Msg("media mirror: s3")
	}

	analyzer, generator, err := providers(ctx, cfg, downloader)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init providers")
	}
	logger.Info().
		Str("vision", cfg.VisionProvider).
		Str("image", cfg.ImageProvider).
		Str("upload_dir", disk.BaseDir).
		Msg("providers ready")

	handler := images.Handler{
		Disk:         disk,
		Analyzer:     analyzer,
		Generator:    generator,
		Downloader:   downloader,
		Mirror:       mirror,
		PromptPrefix: cfg.PromptPrefix,
		Log:          logger,
	}

	srv := server.New(server.Options{
		Port:              cfg.Port,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}, handler, logger)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownChan
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func providers(ctx context.Context, cfg config.Config, downloader *media.Downloader) (vision.Analyzer, vision.Generator, error) {
	openAI := vision.NewOpenAI(vision.OpenAIConfig{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		VisionModel:  cfg.OpenAI.VisionModel,
		VisionPrompt: cfg.OpenAI.VisionPrompt,
		MaxTokens:    cfg.OpenAI.VisionMaxTokens,
		ImageModel:   cfg.OpenAI.ImageModel,
		ImageSize:    cfg.OpenAI.ImageSize,
		Timeout:      cfg.ProviderTimeout,
	})

	var gemini *vision.Gemini
	if cfg.VisionProvider == "gemini" || cfg.ImageProvider == "gemini" {
		var err error
		gemini, err = vision.NewGemini(ctx, vision.GeminiConfig{
			APIKey:       cfg.Gemini.APIKey,
			VisionModel:  cfg.Gemini.VisionModel,
			ImageModel:   cfg.Gemini.ImageModel,
			VisionPrompt: cfg.OpenAI.VisionPrompt,
			Timeout:      cfg.ProviderTimeout,
		}, downloader)
		if err != nil {
			return nil, nil, err
		}
	}

	var analyzer vision.Analyzer = openAI
	if cfg.VisionProvider == "gemini" {
		analyzer = gemini
	}

	var generator vision.Generator = openAI
	switch cfg.ImageProvider {
	case "gemini":
		generator = gemini
	case "vertex":
		imagen, err := vision.NewVertexImagen(vision.VertexImagenConfig{
			ProjectID:       cfg.Vertex.ProjectID,
			Location:        cfg.Vertex.Location,
			Model:           cfg.Vertex.ImageModel,
			CredentialsFile: cfg.Vertex.CredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		generator = imagen
	}

	return analyzer, generator, nil
}
