// Package qwen is a small client for DashScope's multimodal generation
// endpoint, used to render one dish photo per recipe.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"recipes/internal/infra"
)

const (
	defaultBaseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	defaultModel   = "qwen-image-plus"
	defaultSize    = "1328*1328"
	generationPath = "/services/aigc/multimodal-generation/generation"

	// maxImageBytes bounds the downloaded picture held in memory before upload.
	maxImageBytes = 20 << 20
	maxErrorBytes = 64 << 10
)

var (
	// ErrMissingAPIKey indicates that the client was configured without credentials.
	ErrMissingAPIKey = errors.New("qwen: api key is required")
	// ErrEmptyResult is returned when the API answers without any image.
	ErrEmptyResult = errors.New("qwen: empty image url")
	// ErrImageTooLarge is returned when the generated file exceeds maxImageBytes.
	ErrImageTooLarge = errors.New("qwen: image exceeds size limit")
)

// Options configures the client. Zero values fall back to the public
// international endpoint and the qwen-image-plus model.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	DefaultSize    string
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

type Client struct {
	apiKey       string
	endpoint     string
	model        string
	defaultSize  string
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	logger       *infra.Logger
}

// ImageRequest is a single text-to-image call. Seed 0 lets the service pick.
type ImageRequest struct {
	Prompt string
	Size   string
	Seed   int
}

// ImageAsset is the downloaded picture.
type ImageAsset struct {
	URL    string
	Data   []byte
	Format string
	Width  int
	Height int
}

// APIError is a DashScope failure carrying the HTTP status so callers can
// decide whether the call may be retried.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("qwen: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("qwen: %s (%s)", e.Message, e.Code)
}

// Retryable reports whether the status signals throttling or a server fault.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500 ||
		e.Code == "Throttling" || strings.HasPrefix(e.Code, "Throttling.")
}

type synthesisRequest struct {
	Model      string          `json:"model"`
	Input      synthesisInput  `json:"input"`
	Parameters synthesisParams `json:"parameters"`
}

type synthesisInput struct {
	Messages []synthesisMessage `json:"messages"`
}

type synthesisMessage struct {
	Role    string         `json:"role"`
	Content []synthesisTxt `json:"content"`
}

type synthesisTxt struct {
	Text string `json:"text"`
}

type synthesisParams struct {
	Size         string `json:"size"`
	PromptExtend *bool  `json:"prompt_extend,omitempty"`
	Watermark    bool   `json:"watermark"`
	Seed         *int   `json:"seed,omitempty"`
}

type synthesisResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("qwen: invalid base url: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		endpoint:     baseURL + generationPath,
		model:        orDefault(opts.Model, defaultModel),
		defaultSize:  orDefault(opts.DefaultSize, defaultSize),
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

func (c *Client) Model() string { return c.model }

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool { return c.apiKey != "" }

// GenerateImage asks for one picture and downloads it.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageAsset, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("qwen: prompt is required")
	}

	payload := synthesisRequest{
		Model: c.model,
		Input: synthesisInput{Messages: []synthesisMessage{{
			Role:    "user",
			Content: []synthesisTxt{{Text: prompt}},
		}}},
		Parameters: synthesisParams{
			Size:      orDefault(req.Size, c.defaultSize),
			Watermark: c.watermark,
		},
	}
	if c.promptExtend {
		extend := true
		payload.Parameters.PromptExtend = &extend
	}
	if req.Seed > 0 {
		seed := req.Seed
		payload.Parameters.Seed = &seed
	}

	decoded, err := c.synthesize(ctx, payload)
	if err != nil {
		return nil, err
	}
	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return nil, ErrEmptyResult
	}
	data, format, err := c.download(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	width, height := decoded.Usage.Width, decoded.Usage.Height
	if width == 0 || height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			width, height = cfg.Width, cfg.Height
		}
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", decoded.RequestID).
		Int("bytes", len(data)).
		Msg("qwen: image ready")
	return &ImageAsset{URL: imageURL, Data: data, Format: format, Width: width, Height: height}, nil
}

func (c *Client) synthesize(ctx context.Context, payload synthesisRequest) (*synthesisResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("qwen: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}
	var decoded synthesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("qwen: decode response: %w", err)
	}
	// DashScope can answer 200 with an error code in the body.
	if decoded.Code != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: decoded.Code, Message: decoded.Message}
	}
	return &decoded, nil
}

func readAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
		apiErr.Code, apiErr.Message = detail.Code, detail.Message
	}
	return apiErr
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("qwen: invalid image url: %s", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &APIError{StatusCode: resp.StatusCode, Message: "download image failed"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("qwen: read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", ErrImageTooLarge
	}
	return data, imageFormat(resp.Header.Get("Content-Type"), data), nil
}

// imageFormat trusts an image/* header and sniffs the bytes otherwise; OSS
// signed URLs often answer application/octet-stream.
func imageFormat(header string, data []byte) string {
	if mediaType, _, _ := strings.Cut(strings.ToLower(header), ";"); strings.HasPrefix(strings.TrimSpace(mediaType), "image/") {
		return strings.TrimSpace(mediaType)
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return "image/png"
}

func firstImageURL(resp *synthesisResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if u := strings.TrimSpace(content.Image); u != "" {
				return u
			}
		}
	}
	return ""
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
