package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Output     OutputConfig
	Transcoder TranscoderConfig
	Retry      RetryConfig
	Progress   ProgressConfig
	Playlist   PlaylistConfig
	Cache      CacheConfig
	Storage    StorageConfig
	Webhook    WebhookConfig
	Tracing    TracingConfig
	Metrics    MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	APIKey          string
	RateLimitRPS    int
	RateLimitBurst  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// OutputConfig holds artifact directory configuration
type OutputConfig struct {
	RootDir         string
	MinFreeBytes    int64
	ArtifactTTL     time.Duration
	CleanupInterval time.Duration
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	FFmpegPath    string
	FFprobePath   string
	WorkerCount   int
	EncodeTimeout time.Duration
	MaxFilesizeMB int64
}

// RetryConfig holds retry/backoff configuration
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// ProgressConfig holds progress bus configuration
type ProgressConfig struct {
	TTL time.Duration
}

// PlaylistConfig holds playlist iteration configuration
type PlaylistConfig struct {
	InterItemDelay time.Duration
}

// CacheConfig holds Redis mirror configuration
type CacheConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// StorageConfig holds the optional object-storage artifact mirror
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// WebhookConfig holds outbound notification configuration
type WebhookConfig struct {
	Endpoints []string
	Secret    string
	Timeout   time.Duration
}

// TracingConfig holds Jaeger tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
}

// MetricsConfig holds the metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// Load reads configuration from file and environment variables. A missing
// file is not an error; defaults and env vars still apply.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("MEDIAGRAB")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.apiKey", "")
	viper.SetDefault("server.rateLimitRPS", 10)
	viper.SetDefault("server.rateLimitBurst", 20)
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Output defaults
	viper.SetDefault("output.rootDir", "output")
	viper.SetDefault("output.minFreeBytes", 100*1024*1024) // 100MB
	viper.SetDefault("output.artifactTTL", "24h")
	viper.SetDefault("output.cleanupInterval", "1h")

	// Transcoder defaults
	viper.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	viper.SetDefault("transcoder.ffprobePath", "ffprobe")
	viper.SetDefault("transcoder.workerCount", 2)
	viper.SetDefault("transcoder.encodeTimeout", "30m")
	viper.SetDefault("transcoder.maxFilesizeMB", 50)

	// Retry defaults
	viper.SetDefault("retry.maxAttempts", 3)
	viper.SetDefault("retry.baseDelay", "3s")

	// Progress defaults
	viper.SetDefault("progress.ttl", "300s")

	// Playlist defaults
	viper.SetDefault("playlist.interItemDelay", "3s")

	// Cache defaults
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.host", "localhost")
	viper.SetDefault("cache.port", 6379)
	viper.SetDefault("cache.password", "")
	viper.SetDefault("cache.db", 0)
	viper.SetDefault("cache.ttl", "1h")

	// Storage defaults
	viper.SetDefault("storage.enabled", false)
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "artifacts")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Webhook defaults
	viper.SetDefault("webhook.endpoints", []string{})
	viper.SetDefault("webhook.secret", "")
	viper.SetDefault("webhook.timeout", "30s")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.serviceName", "mediagrab")
	viper.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9100)
}
