package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Events     EventsConfig
	Export     ExportConfig
	Transcoder TranscoderConfig
	AutoCrop   AutoCropConfig
	Subtitles  SubtitleConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Webhook    WebhookConfig
	RateLimit  RateLimitConfig
	Presets    []models.ExportPreset
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	ProgressTTL time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// EventsConfig holds message broker configuration for progress events
type EventsConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Exchange string
}

// ExportConfig holds export queue configuration
type ExportConfig struct {
	MaxConcurrent  int
	RetryAttempts  int
	RetryDelay     time.Duration
	PriorityLevels int
	OutputDir      string
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	TempDir           string
	FFmpegPath        string
	FFprobePath       string
	ProgressThreshold float64
	FontFile          string
}

// AutoCropConfig holds subject-tracking crop configuration
type AutoCropConfig struct {
	SampleInterval  float64
	BucketSize      float64
	MinConfidence   float64
	SmoothingFactor float64
	MaxMovement     float64
	Concurrency     int
	DetectorURL     string
	DetectorTimeout time.Duration
}

// SubtitleConfig holds caption timing and layout configuration
type SubtitleConfig struct {
	ReadingSpeed   float64
	MinDisplayTime float64
	MaxDisplayTime float64
	MinGap         float64
	MaxLineLength  int
	MaxLines       int
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds Prometheus metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger tracing configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	AgentHost   string
	AgentPort   int
	SampleRate  float64
}

// WebhookConfig holds notification endpoints
type WebhookConfig struct {
	Endpoints  []models.WebhookEndpoint
	Timeout    time.Duration
	MaxRetries int
}

// RateLimitConfig holds per-client API rate limits
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CLIPEXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults are static so decoding cannot fail
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.path", "clipexport.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "clipexport")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.progressTTL", "1h")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "exports")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.host", "localhost")
	v.SetDefault("events.port", 5672)
	v.SetDefault("events.user", "guest")
	v.SetDefault("events.password", "guest")
	v.SetDefault("events.vhost", "/")
	v.SetDefault("events.exchange", "export_events")

	// Export queue defaults
	v.SetDefault("export.maxConcurrent", 2)
	v.SetDefault("export.retryAttempts", 3)
	v.SetDefault("export.retryDelay", "5s")
	v.SetDefault("export.priorityLevels", 10)
	v.SetDefault("export.outputDir", "/tmp/clipexport/out")

	// Transcoder defaults
	v.SetDefault("transcoder.tempDir", "/tmp/clipexport")
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")
	v.SetDefault("transcoder.progressThreshold", 1.0)
	v.SetDefault("transcoder.fontFile", "")

	// Auto-crop defaults
	v.SetDefault("autoCrop.sampleInterval", 1.0)
	v.SetDefault("autoCrop.bucketSize", 1.0)
	v.SetDefault("autoCrop.minConfidence", 0.5)
	v.SetDefault("autoCrop.smoothingFactor", 0.3)
	v.SetDefault("autoCrop.maxMovement", 50.0)
	v.SetDefault("autoCrop.concurrency", 4)
	v.SetDefault("autoCrop.detectorURL", "")
	v.SetDefault("autoCrop.detectorTimeout", "10s")

	// Subtitle defaults
	v.SetDefault("subtitles.readingSpeed", 17.0)
	v.SetDefault("subtitles.minDisplayTime", 1.0)
	v.SetDefault("subtitles.maxDisplayTime", 7.0)
	v.SetDefault("subtitles.minGap", 0.1)
	v.SetDefault("subtitles.maxLineLength", 42)
	v.SetDefault("subtitles.maxLines", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "clipexport")
	v.SetDefault("tracing.agentHost", "localhost")
	v.SetDefault("tracing.agentPort", 6831)
	v.SetDefault("tracing.sampleRate", 1.0)

	// Webhook defaults
	v.SetDefault("webhook.timeout", "30s")
	v.SetDefault("webhook.maxRetries", 3)

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerSecond", 10.0)
	v.SetDefault("rateLimit.burst", 20)
}
