package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// VertexImagenConfig describes how to connect to Imagen.
type VertexImagenConfig struct {
	ProjectID       string
	Location        string
	Model           string
	CredentialsFile string
}

// VertexImagen implements Generator via the Vertex AI prediction API.
type VertexImagen struct {
	cfg VertexImagenConfig
}

// NewVertexImagen wires a VertexImagen generator.
func NewVertexImagen(cfg VertexImagenConfig) (*VertexImagen, error) {
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	cfg.Location = strings.TrimSpace(cfg.Location)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.ProjectID == "" || cfg.Location == "" || cfg.Model == "" {
		return nil, fmt.Errorf("imagen: missing project/location/model")
	}
	return &VertexImagen{cfg: cfg}, nil
}

func (v *VertexImagen) endpoint() string {
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", v.cfg.ProjectID, v.cfg.Location, v.cfg.Model)
}

func (v *VertexImagen) clientOptions() []option.ClientOption {
	opts := []option.ClientOption{option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", v.cfg.Location))}
	if v.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(v.cfg.CredentialsFile))
	}
	return opts
}

// Generate runs a single-sample Imagen prediction.
func (v *VertexImagen) Generate(ctx context.Context, prompt string) (Artifact, error) {
	req, err := v.predictRequest(prompt)
	if err != nil {
		return Artifact{}, err
	}

	client, err := aiplatform.NewPredictionClient(ctx, v.clientOptions()...)
	if err != nil {
		return Artifact{}, fmt.Errorf("imagen: prediction client: %w", err)
	}
	defer client.Close()

	resp, err := client.Predict(ctx, req)
	if err != nil {
		return Artifact{}, fmt.Errorf("imagen: predict: %w", err)
	}
	return decodePrediction(resp)
}

func (v *VertexImagen) predictRequest(prompt string) (*aiplatformpb.PredictRequest, error) {
	instance, err := structpb.NewValue(map[string]any{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("imagen: build instance: %w", err)
	}
	params, err := structpb.NewValue(map[string]any{
		"sampleCount": 1,
		"aspectRatio": "1:1",
	})
	if err != nil {
		return nil, fmt.Errorf("imagen: build parameters: %w", err)
	}
	return &aiplatformpb.PredictRequest{
		Endpoint:   v.endpoint(),
		Instances:  []*structpb.Value{instance},
		Parameters: params,
	}, nil
}

func decodePrediction(resp *aiplatformpb.PredictResponse) (Artifact, error) {
	if resp == nil || len(resp.Predictions) == 0 {
		return Artifact{}, ErrEmptyResponse
	}

	fields := resp.Predictions[0].GetStructValue().GetFields()
	encoded := fields["bytesBase64Encoded"]
	if encoded == nil || encoded.GetStringValue() == "" {
		return Artifact{}, ErrEmptyResponse
	}

	data, err := base64.StdEncoding.DecodeString(encoded.GetStringValue())
	if err != nil {
		return Artifact{}, fmt.Errorf("imagen: decode result: %w", err)
	}

	mime := "image/png"
	if m := fields["mimeType"].GetStringValue(); m != "" {
		mime = m
	}
	return Artifact{Data: data, MIME: mime}, nil
}
