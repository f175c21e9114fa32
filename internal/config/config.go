package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	FFmpeg    FFmpegConfig
	Engine    EngineConfig
	Pipeline  PipelineConfig
	Mirror    MirrorConfig
}

type ServerConfig struct {
	APIPort       string
	DashboardPort string
	Env           string
	LogLevel      string
	BodyLimitMB   int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	ProcessPerHour int
	StatusPerMin   int
}

type StorageConfig struct {
	DataDir        string
	RetentionHours int
}

type FFmpegConfig struct {
	Bin        string
	TimeoutSec int
}

type EngineConfig struct {
	BaseURL string
	APIKey  string
	Timeout int // seconds
}

type PipelineConfig struct {
	Language      string
	GPUCount      int
	MaxAttempts   int
	BackoffBaseMS int
	BackoffMaxMS  int
	Lookahead     int
	SampleRate    int
	Channels      int
	TrimLeadSec   float64
	RemoveSilence bool
	MinSegmentSec float64
}

type MirrorConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	PathStyle       bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("ENGINE_API_KEY")
	readSecret("MIRROR_ACCESS_KEY_ID")
	readSecret("MIRROR_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.api_port", "API_PORT")
	_ = viper.BindEnv("server.dashboard_port", "DASHBOARD_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("ratelimit.process_per_hour", "RATELIMIT_PROCESS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.status_per_min", "RATELIMIT_STATUS_PER_MIN")
	_ = viper.BindEnv("storage.data_dir", "DATA_DIR")
	_ = viper.BindEnv("storage.retention_hours", "RETENTION_HOURS")
	_ = viper.BindEnv("ffmpeg.bin", "FFMPEG_BIN")
	_ = viper.BindEnv("ffmpeg.timeout_sec", "FFMPEG_TIMEOUT_SEC")
	_ = viper.BindEnv("engine.base_url", "ENGINE_BASE_URL")
	_ = viper.BindEnv("engine.api_key", "ENGINE_API_KEY")
	_ = viper.BindEnv("engine.timeout", "ENGINE_TIMEOUT")
	_ = viper.BindEnv("pipeline.language", "LANGUAGE")
	_ = viper.BindEnv("pipeline.gpu_count", "GPU_COUNT")
	_ = viper.BindEnv("pipeline.max_attempts", "MAX_ATTEMPTS")
	_ = viper.BindEnv("pipeline.backoff_base_ms", "BACKOFF_BASE_MS")
	_ = viper.BindEnv("pipeline.backoff_max_ms", "BACKOFF_MAX_MS")
	_ = viper.BindEnv("pipeline.lookahead", "TRANSFORM_LOOKAHEAD")
	_ = viper.BindEnv("pipeline.sample_rate", "SAMPLE_RATE")
	_ = viper.BindEnv("pipeline.channels", "CHANNELS")
	_ = viper.BindEnv("pipeline.trim_lead_sec", "TRIM_LEAD_SEC")
	_ = viper.BindEnv("pipeline.remove_silence", "REMOVE_SILENCE")
	_ = viper.BindEnv("pipeline.min_segment_sec", "MIN_SEGMENT_SEC")
	_ = viper.BindEnv("mirror.endpoint", "MIRROR_ENDPOINT")
	_ = viper.BindEnv("mirror.region", "MIRROR_REGION")
	_ = viper.BindEnv("mirror.access_key_id", "MIRROR_ACCESS_KEY_ID")
	_ = viper.BindEnv("mirror.secret_access_key", "MIRROR_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("mirror.bucket", "MIRROR_BUCKET")
	_ = viper.BindEnv("mirror.public_url", "MIRROR_PUBLIC_URL")
	_ = viper.BindEnv("mirror.path_style", "MIRROR_PATH_STYLE")

	// Defaults
	viper.SetDefault("server.api_port", "8001")
	viper.SetDefault("server.dashboard_port", "8501")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.body_limit_mb", 200)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("ratelimit.process_per_hour", 20)
	viper.SetDefault("ratelimit.status_per_min", 120)
	viper.SetDefault("storage.data_dir", "/app")
	viper.SetDefault("storage.retention_hours", 1)
	viper.SetDefault("ffmpeg.bin", "ffmpeg")
	viper.SetDefault("ffmpeg.timeout_sec", 300)
	viper.SetDefault("engine.timeout", 600)
	viper.SetDefault("pipeline.language", "ur")
	viper.SetDefault("pipeline.gpu_count", 1)
	viper.SetDefault("pipeline.max_attempts", 3)
	viper.SetDefault("pipeline.backoff_base_ms", 2000)
	viper.SetDefault("pipeline.backoff_max_ms", 120000)
	viper.SetDefault("pipeline.lookahead", 2)
	viper.SetDefault("pipeline.sample_rate", 16000)
	viper.SetDefault("pipeline.channels", 1)
	viper.SetDefault("pipeline.trim_lead_sec", 3.0)
	viper.SetDefault("pipeline.remove_silence", true)
	viper.SetDefault("pipeline.min_segment_sec", 0.5)
	viper.SetDefault("mirror.region", "auto")

	// Config file is optional
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			APIPort:       viper.GetString("server.api_port"),
			DashboardPort: viper.GetString("server.dashboard_port"),
			Env:           viper.GetString("server.env"),
			LogLevel:      viper.GetString("server.log_level"),
			BodyLimitMB:   viper.GetInt("server.body_limit_mb"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			ProcessPerHour: viper.GetInt("ratelimit.process_per_hour"),
			StatusPerMin:   viper.GetInt("ratelimit.status_per_min"),
		},
		Storage: StorageConfig{
			DataDir:        viper.GetString("storage.data_dir"),
			RetentionHours: viper.GetInt("storage.retention_hours"),
		},
		FFmpeg: FFmpegConfig{
			Bin:        viper.GetString("ffmpeg.bin"),
			TimeoutSec: viper.GetInt("ffmpeg.timeout_sec"),
		},
		Engine: EngineConfig{
			BaseURL: viper.GetString("engine.base_url"),
			APIKey:  viper.GetString("engine.api_key"),
			Timeout: viper.GetInt("engine.timeout"),
		},
		Pipeline: PipelineConfig{
			Language:      viper.GetString("pipeline.language"),
			GPUCount:      viper.GetInt("pipeline.gpu_count"),
			MaxAttempts:   viper.GetInt("pipeline.max_attempts"),
			BackoffBaseMS: viper.GetInt("pipeline.backoff_base_ms"),
			BackoffMaxMS:  viper.GetInt("pipeline.backoff_max_ms"),
			Lookahead:     viper.GetInt("pipeline.lookahead"),
			SampleRate:    viper.GetInt("pipeline.sample_rate"),
			Channels:      viper.GetInt("pipeline.channels"),
			TrimLeadSec:   viper.GetFloat64("pipeline.trim_lead_sec"),
			RemoveSilence: viper.GetBool("pipeline.remove_silence"),
			MinSegmentSec: viper.GetFloat64("pipeline.min_segment_sec"),
		},
		Mirror: MirrorConfig{
			Endpoint:        viper.GetString("mirror.endpoint"),
			Region:          viper.GetString("mirror.region"),
			AccessKeyID:     viper.GetString("mirror.access_key_id"),
			SecretAccessKey: viper.GetString("mirror.secret_access_key"),
			Bucket:          viper.GetString("mirror.bucket"),
			PublicURL:       viper.GetString("mirror.public_url"),
			PathStyle:       viper.GetBool("mirror.path_style"),
		},
	}

	return cfg, nil
}
