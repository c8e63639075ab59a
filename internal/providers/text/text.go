// Package text streams recipe text from a language model.
package text

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"recipes/internal/infra"
)

// Stream yields generated text in order. Next returns io.EOF once the
// generation finished normally; any other error ends the stream.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Generator opens a text stream for a prompt.
type Generator interface {
	Name() string
	Stream(ctx context.Context, prompt string) (Stream, error)
}

func discardLogger() *infra.Logger {
	l := infra.Logger(zerolog.New(io.Discard))
	return &l
}
