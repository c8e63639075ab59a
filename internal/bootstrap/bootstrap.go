// Package bootstrap assembles the service's collaborators from Config. The
// gateway and worker binaries share it so both pick backends the same way.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"

	"recipes/internal/http/handlers"
	"recipes/internal/infra"
	"recipes/internal/infra/credentials"
	"recipes/internal/metrics"
	"recipes/internal/providers/image"
	"recipes/internal/providers/qwen"
	"recipes/internal/providers/text"
	"recipes/internal/registry"
	"recipes/internal/relay"
	"recipes/internal/storage"
	"recipes/internal/workflow"
)

const providerHTTPTimeout = 90 * time.Second

// Resources holds the long-lived connections a process opened. Close
// releases whatever was opened.
type Resources struct {
	DB    *pgxpool.Pool
	SQL   *infra.SQLRunner
	Redis *redis.Client
	NATS  *nats.Conn
}

// Open connects to the backends cfg selects and nothing else.
func Open(ctx context.Context, cfg *infra.Config, name string, logger infra.Logger) (*Resources, error) {
	res := &Resources{}
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg, name)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database: %w", err)
		}
		res.DB = pool
		res.SQL = infra.NewSQLRunner(pool, logger)
	}
	if cfg.RegistryBackend == infra.RegistryRedis {
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("bootstrap: redis: %w", err)
		}
		res.Redis = client
	}
	if cfg.JobDispatch == infra.DispatchNATS {
		nc, err := infra.NewNATSConn(cfg, name, logger)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("bootstrap: nats: %w", err)
		}
		res.NATS = nc
	}
	return res, nil
}

func (r *Resources) Close() {
	if r.NATS != nil {
		_ = r.NATS.Drain()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.DB != nil {
		r.DB.Close()
	}
}

// Checks returns a health check per opened backend.
func (r *Resources) Checks() map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	if r.DB != nil {
		checks["postgres"] = func(ctx context.Context) error { return r.DB.Ping(ctx) }
	}
	if r.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return r.Redis.Ping(ctx).Err() }
	}
	if r.NATS != nil {
		checks["nats"] = func(context.Context) error {
			if !r.NATS.IsConnected() {
				return fmt.Errorf("nats: %s", r.NATS.Status())
			}
			return nil
		}
	}
	return checks
}

// GatewayID returns the configured id or a unique one derived from the host.
func GatewayID(cfg *infra.Config) string {
	if cfg.GatewayID != "" {
		return cfg.GatewayID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gateway"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Registry builds the configured connection registry.
func Registry(cfg *infra.Config, res *Resources) (registry.Registry, error) {
	switch cfg.RegistryBackend {
	case infra.RegistryMemory:
		return registry.NewMemory(), nil
	case infra.RegistryRedis:
		if res.Redis == nil {
			return nil, errors.New("bootstrap: redis registry without a redis client")
		}
		return registry.NewRedis(res.Redis, registry.WithTTL(cfg.RegistryTTL), registry.WithPrefix(cfg.RedisPrefix)), nil
	case infra.RegistryPostgres:
		if res.SQL == nil {
			return nil, errors.New("bootstrap: postgres registry without a database")
		}
		return registry.NewPostgres(res.SQL), nil
	default:
		return nil, fmt.Errorf("bootstrap: unsupported registry %q", cfg.RegistryBackend)
	}
}

// Store builds the configured content store. The *storage.FileStore is
// returned as well when the filesystem backend is used so callers can serve
// and sweep it.
func Store(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (storage.ContentStore, *storage.FileStore, error) {
	switch cfg.StorageBackend {
	case infra.StorageS3:
		awsCfg, err := infra.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := storage.NewS3Store(s3.NewFromConfig(awsCfg), storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Prefix:        cfg.S3Prefix,
			PublicBaseURL: cfg.S3PublicBaseURL,
			Retention:     cfg.StorageRetention,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		fs, err := storage.NewFileStore(path, cfg.StorageBaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	}
}

// Generators picks the text and image providers. A provider without an API
// key, neither in the environment nor in the key store, is replaced by the
// deterministic local generator so the pipeline still runs.
func Generators(ctx context.Context, cfg *infra.Config, keys *credentials.Store, logger *infra.Logger) (text.Generator, image.Generator, error) {
	httpClient := &http.Client{Timeout: providerHTTPTimeout}
	resolve := func(provider, fallback string) string {
		key, err := keys.Resolve(ctx, provider, fallback)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("load api key from store")
		}
		return key
	}

	var textGen text.Generator
	switch cfg.TextProvider {
	case "openai":
		if key := resolve(credentials.ProviderOpenAI, cfg.OpenAIAPIKey); key != "" {
			gen, err := text.NewOpenAI(text.OpenAIOptions{
				APIKey:       key,
				BaseURL:      cfg.OpenAIBaseURL,
				Organization: cfg.OpenAIOrg,
				Model:        cfg.OpenAIModel,
				HTTPClient:   httpClient,
				Logger:       logger,
			})
			if err != nil {
				return nil, nil, err
			}
			textGen = gen
		}
	case "gemini":
		if key := resolve(credentials.ProviderGemini, cfg.GeminiAPIKey); key != "" {
			gen, err := text.NewGemini(ctx, text.GeminiOptions{
				APIKey:     key,
				Model:      cfg.GeminiModel,
				HTTPClient: httpClient,
				Logger:     logger,
			})
			if err != nil {
				return nil, nil, err
			}
			textGen = gen
		}
	case "static":
	default:
		return nil, nil, fmt.Errorf("bootstrap: unsupported TEXT_PROVIDER %q", cfg.TextProvider)
	}
	if textGen == nil {
		if cfg.TextProvider != "static" {
			logger.Warn().Str("provider", cfg.TextProvider).Msg("api key missing, using static recipes")
		}
		static := text.NewStatic(language.Und)
		static.Delay = 50 * time.Millisecond
		textGen = static
	}

	synthetic := image.NewSynthetic()
	var imageGen image.Generator
	switch cfg.ImageProvider {
	case "imagen":
		if key := resolve(credentials.ProviderGemini, cfg.GeminiAPIKey); key != "" {
			gen, err := image.NewImagen(ctx, image.ImagenOptions{
				APIKey:     key,
				Model:      cfg.ImagenModel,
				HTTPClient: httpClient,
				Logger:     logger,
			})
			if err != nil {
				return nil, nil, err
			}
			imageGen = gen
		}
	case "qwen":
		client, err := qwen.NewClient(qwen.Options{
			APIKey:     resolve(credentials.ProviderQwen, cfg.QwenAPIKey),
			BaseURL:    cfg.QwenBaseURL,
			Model:      cfg.QwenModel,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		imageGen = image.NewQwenGenerator(client, synthetic, logger)
	case "synthetic":
	default:
		return nil, nil, fmt.Errorf("bootstrap: unsupported IMAGE_PROVIDER %q", cfg.ImageProvider)
	}
	if imageGen == nil {
		if cfg.ImageProvider != "synthetic" {
			logger.Warn().Str("provider", cfg.ImageProvider).Msg("api key missing, using synthetic images")
		}
		imageGen = synthetic
	}
	logger.Info().Str("text_provider", textGen.Name()).Str("image_provider", imageGen.Name()).Msg("providers configured")
	return textGen, imageGen, nil
}

// Engine wires a workflow engine delivering through rel.
func Engine(ctx context.Context, cfg *infra.Config, res *Resources, rel *relay.Relay, m *metrics.Metrics, logger *infra.Logger) (*workflow.Engine, *storage.FileStore, error) {
	var keys *credentials.Store
	if res.SQL != nil {
		keys = credentials.NewStore(res.SQL)
	}
	textGen, imageGen, err := Generators(ctx, cfg, keys, logger)
	if err != nil {
		return nil, nil, err
	}
	store, fileStore, err := Store(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	eng, err := workflow.New(workflow.Options{
		Text:  textGen,
		Image: imageGen,
		Store: store,
		Relay: rel,
		Retry: workflow.RetryConfig{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBackoffBase,
			MaxDelay:    10 * cfg.RetryBackoffBase,
		},
		Notices: cfg.ProgressNotices,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, fileStore, nil
}
