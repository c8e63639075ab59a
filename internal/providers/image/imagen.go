package image

import (
	"bytes"
	"context"
	"errors"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/providers"
)

const providerImagen = "imagen"

// ImagenOptions configures the Imagen generator.
type ImagenOptions struct {
	APIKey      string
	Model       string
	AspectRatio string
	HTTPClient  *http.Client
	Logger      *infra.Logger
}

// imagesAPI is the subset of genai.Models used here.
type imagesAPI interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// Imagen calls the Gemini API image models through google.golang.org/genai.
type Imagen struct {
	api    imagesAPI
	model  string
	aspect string
	logger *infra.Logger
}

func NewImagen(ctx context.Context, opts ImagenOptions) (*Imagen, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("imagen: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return newImagen(client.Models, opts), nil
}

func newImagen(api imagesAPI, opts ImagenOptions) *Imagen {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "imagen-3.0-generate-002"
	}
	aspect := strings.TrimSpace(opts.AspectRatio)
	if aspect == "" {
		aspect = "1:1"
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &Imagen{api: api, model: model, aspect: aspect, logger: logger}
}

func (g *Imagen) Name() string { return providerImagen }

func (g *Imagen) Generate(ctx context.Context, prompt string, _ int64) (*Asset, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, domain.NewFatalError(providerImagen, errors.New("prompt is required"))
	}
	resp, err := g.api.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    g.aspect,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, providers.ClassifyGenAI(providerImagen, err)
	}
	if resp == nil {
		return nil, domain.NewFatalError(providerImagen, errors.New("empty response"))
	}
	for _, generated := range resp.GeneratedImages {
		if generated == nil || generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
			if generated != nil && generated.RAIFilteredReason != "" {
				g.logger.Warn().Str("provider", providerImagen).Str("reason", generated.RAIFilteredReason).Msg("image filtered")
			}
			continue
		}
		asset := &Asset{Data: generated.Image.ImageBytes, Format: generated.Image.MIMEType}
		if asset.Format == "" {
			asset.Format = "image/png"
		}
		if cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(asset.Data)); err == nil {
			asset.Width, asset.Height = cfg.Width, cfg.Height
		}
		return asset, nil
	}
	return nil, domain.NewFatalError(providerImagen, errors.New("no image returned"))
}

var _ Generator = (*Imagen)(nil)
