package image

import (
	"context"
	"errors"
	"strings"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/providers"
	"recipes/internal/providers/qwen"
)

const providerQwen = "qwen"

type qwenImageClient interface {
	GenerateImage(context.Context, qwen.ImageRequest) (*qwen.ImageAsset, error)
	HasCredentials() bool
	Model() string
}

// QwenGenerator calls DashScope's Qwen image model and falls back to another
// generator (usually Synthetic) when no credentials are configured.
type QwenGenerator struct {
	client   qwenImageClient
	fallback Generator
	size     string
	logger   *infra.Logger
}

// NewQwenGenerator wires a Qwen client with an optional fallback generator.
func NewQwenGenerator(client qwenImageClient, fallback Generator, logger *infra.Logger) *QwenGenerator {
	if logger == nil {
		logger = discardLogger()
	}
	return &QwenGenerator{client: client, fallback: fallback, size: "1024*1024", logger: logger}
}

func (g *QwenGenerator) Name() string { return providerQwen }

func (g *QwenGenerator) Generate(ctx context.Context, prompt string, seed int64) (*Asset, error) {
	if g.client == nil || !g.client.HasCredentials() {
		if g.fallback != nil {
			g.logger.Debug().Str("provider", providerQwen).Msg("no credentials, using fallback generator")
			return g.fallback.Generate(ctx, prompt, seed)
		}
		return nil, domain.NewFatalError(providerQwen, qwen.ErrMissingAPIKey)
	}
	req := qwen.ImageRequest{
		Prompt: strings.TrimSpace(prompt),
		Size:   g.size,
		Seed:   qwenSeed(seed),
	}
	asset, err := g.client.GenerateImage(ctx, req)
	if err != nil {
		return nil, classifyQwen(err)
	}
	return &Asset{
		Data:   asset.Data,
		Format: normalizeFormat(asset.Format),
		Width:  asset.Width,
		Height: asset.Height,
	}, nil
}

func (g *QwenGenerator) String() string {
	if g == nil || g.client == nil {
		return providerQwen
	}
	return g.client.Model()
}

// qwenSeed folds seed into DashScope's accepted range [1, 2^31-1).
func qwenSeed(seed int64) int {
	if seed < 0 {
		seed = -seed
	}
	v := int(seed % 2147483647)
	if v <= 0 {
		return 1
	}
	return v
}

func classifyQwen(err error) error {
	var apiErr *qwen.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Retryable() {
			return domain.NewTransientError(providerQwen, err)
		}
		return domain.NewFatalError(providerQwen, err)
	}
	return providers.Classify(providerQwen, err)
}

func normalizeFormat(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch mime {
	case "image/jpeg", "image/jpg":
		return "image/jpeg"
	case "image/png":
		return "image/png"
	default:
		if strings.HasPrefix(mime, "image/") {
			return mime
		}
		return "image/png"
	}
}

var _ Generator = (*QwenGenerator)(nil)
