// Package image turns a recipe summary into a single illustrative picture.
package image

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"recipes/internal/infra"
)

// Asset is one generated image held in memory until it is stored.
type Asset struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Generator produces exactly one image per call. seed is advisory; providers
// that cannot pin a seed ignore it.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, seed int64) (*Asset, error)
}

func discardLogger() *infra.Logger {
	l := infra.Logger(zerolog.New(io.Discard))
	return &l
}
