package text

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/providers"
)

const providerOpenAI = "openai"

// OpenAIOptions configures the chat completions streamer.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Organization string
	Model        string
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// OpenAI streams chat completion deltas.
type OpenAI struct {
	client openai.Client
	model  string
	logger *infra.Logger
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	// The workflow owns retries, so the SDK must not retry on its own.
	reqOpts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if org := strings.TrimSpace(opts.Organization); org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(org))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &OpenAI{client: openai.NewClient(reqOpts...), model: model, logger: logger}, nil
}

func (o *OpenAI) Name() string { return providerOpenAI }

func (o *OpenAI) Stream(ctx context.Context, prompt string) (Stream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.NewFatalError(providerOpenAI, errors.New("prompt is required"))
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	o.logger.Debug().Str("provider", providerOpenAI).Str("model", o.model).Msg("opening completion stream")
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, classifyOpenAI(err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStream) Next() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", classifyOpenAI(err)
	}
	return "", io.EOF
}

func (s *openAIStream) Close() error { return s.stream.Close() }

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return providers.FromStatus(providerOpenAI, apiErr.StatusCode, err)
	}
	return providers.Classify(providerOpenAI, err)
}

var _ Generator = (*OpenAI)(nil)
