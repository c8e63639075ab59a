package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	RegistryMemory   = "memory"
	RegistryRedis    = "redis"
	RegistryPostgres = "postgres"

	DispatchInProcess = "inprocess"
	DispatchNATS      = "nats"

	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// minRegistryTTL leaves room for one missed keepalive refresh.
const minRegistryTTL = 2 * time.Minute

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	MetricsPort   string
	GatewayID     string
	DefaultLocale string
	GeoIPDBPath   string

	RegistryBackend string
	RegistryTTL     time.Duration
	DatabaseURL     string
	DBMaxConns      int
	RedisURL        string
	RedisPrefix     string

	JobDispatch       string
	NATSURL           string
	NATSSubjectPrefix string
	WorkerMaxJobs     int

	StorageBackend   string
	StoragePath      string
	StorageBaseURL   string
	StorageRetention time.Duration
	S3Bucket         string
	S3Region         string
	S3Prefix         string
	S3PublicBaseURL  string

	TextProvider  string
	ImageProvider string
	GeminiAPIKey  string
	GeminiModel   string
	ImagenModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIOrg     string
	QwenAPIKey    string
	QwenBaseURL   string
	QwenModel     string

	MaxIngredientChars int
	RelayTimeout       time.Duration
	ProgressNotices    bool
	RetryMaxAttempts   int
	RetryBackoffBase   time.Duration

	AllowedOrigins   []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
		GatewayID:     os.Getenv("GATEWAY_ID"),
		DefaultLocale: getEnv("DEFAULT_LOCALE", "es"),
		GeoIPDBPath:   os.Getenv("GEOIP_DB_PATH"),

		RegistryBackend: strings.ToLower(getEnv("REGISTRY_BACKEND", RegistryMemory)),
		RegistryTTL:     getEnvDuration("REGISTRY_TTL", 2*time.Hour),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBMaxConns:      getEnvInt("DB_MAX_CONNS", 10),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisPrefix:     getEnv("REDIS_PREFIX", "recipes"),

		JobDispatch:       strings.ToLower(getEnv("JOB_DISPATCH", DispatchInProcess)),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "recipes"),
		WorkerMaxJobs:     getEnvInt("WORKER_MAX_JOBS", 16),

		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", StorageFilesystem)),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		StorageRetention: getEnvDuration("STORAGE_RETENTION", 24*time.Hour),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         os.Getenv("S3_REGION"),
		S3Prefix:         os.Getenv("S3_PREFIX"),
		S3PublicBaseURL:  os.Getenv("S3_PUBLIC_BASE_URL"),

		TextProvider:  strings.ToLower(getEnv("TEXT_PROVIDER", "gemini")),
		ImageProvider: strings.ToLower(getEnv("IMAGE_PROVIDER", "imagen")),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ImagenModel:   getEnv("IMAGEN_MODEL", "imagen-3.0-generate-002"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:     os.Getenv("OPENAI_ORG"),
		QwenAPIKey:    os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:   getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:     getEnv("QWEN_MODEL", "qwen-image-plus"),

		MaxIngredientChars: getEnvInt("MAX_INGREDIENT_CHARS", 1000),
		RelayTimeout:       getEnvDuration("RELAY_TIMEOUT", 2*time.Second),
		ProgressNotices:    getEnvBool("PROGRESS_NOTICES", true),
		RetryMaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBackoffBase:   getEnvDuration("RETRY_BACKOFF_BASE", time.Second),

		AllowedOrigins:   splitList(os.Getenv("ALLOWED_ORIGINS")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	switch cfg.RegistryBackend {
	case RegistryMemory:
	case RegistryRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis registry")
		}
	case RegistryPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres registry")
		}
	default:
		return nil, fmt.Errorf("unsupported REGISTRY_BACKEND %q", cfg.RegistryBackend)
	}

	switch cfg.JobDispatch {
	case DispatchInProcess:
	case DispatchNATS:
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("NATS_URL is required when JOB_DISPATCH=nats")
		}
		if cfg.RegistryBackend == RegistryMemory {
			return nil, fmt.Errorf("JOB_DISPATCH=nats needs a shared registry (redis or postgres)")
		}
	default:
		return nil, fmt.Errorf("unsupported JOB_DISPATCH %q", cfg.JobDispatch)
	}

	switch cfg.StorageBackend {
	case StorageFilesystem:
	case StorageS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	if cfg.MaxIngredientChars <= 0 {
		return nil, fmt.Errorf("MAX_INGREDIENT_CHARS must be positive")
	}
	// Gateways refresh entries on every keepalive ping, just under a minute apart.
	if cfg.RegistryTTL != 0 && cfg.RegistryTTL < minRegistryTTL {
		return nil, fmt.Errorf("REGISTRY_TTL must be 0 or at least %s", minRegistryTTL)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
