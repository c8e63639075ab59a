package text

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/providers"
)

const providerGemini = "gemini"

// GeminiOptions configures the Gemini streamer.
type GeminiOptions struct {
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Gemini streams GenerateContent responses from the Gemini API.
type Gemini struct {
	models *genai.Models
	model  string
	logger *infra.Logger
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("gemini: api key is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &Gemini{models: client.Models, model: model, logger: logger}, nil
}

func (g *Gemini) Name() string { return providerGemini }

func (g *Gemini) Stream(ctx context.Context, prompt string) (Stream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.NewFatalError(providerGemini, errors.New("prompt is required"))
	}
	g.logger.Debug().Str("provider", providerGemini).Str("model", g.model).Msg("opening content stream")
	next, stop := iter.Pull2(g.models.GenerateContentStream(ctx, g.model, genai.Text(prompt), nil))
	return &geminiStream{next: next, stop: stop}, nil
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
	done bool
}

func (s *geminiStream) Next() (string, error) {
	for !s.done {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			break
		}
		if err != nil {
			s.done = true
			return "", providers.ClassifyGenAI(providerGemini, err)
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}

var _ Generator = (*Gemini)(nil)
