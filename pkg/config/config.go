package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address     string        `yaml:"address" env:"LANLINK_SERVER_ADDRESS"`
		ReadTimeout time.Duration `yaml:"read_timeout" env:"LANLINK_SERVER_READ_TIMEOUT"`
		// 0 disables the write timeout; large downloads need it.
		WriteTimeout    time.Duration `yaml:"write_timeout" env:"LANLINK_SERVER_WRITE_TIMEOUT"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LANLINK_SERVER_SHUTDOWN_TIMEOUT"`
		Environment     string        `yaml:"environment" env:"LANLINK_ENV"`
	} `yaml:"server"`

	Signal struct {
		Path           string        `yaml:"path" env:"LANLINK_SIGNAL_PATH"`
		PingInterval   time.Duration `yaml:"ping_interval" env:"LANLINK_SIGNAL_PING_INTERVAL"`
		PongTimeout    time.Duration `yaml:"pong_timeout" env:"LANLINK_SIGNAL_PONG_TIMEOUT"`
		WriteTimeout   time.Duration `yaml:"write_timeout" env:"LANLINK_SIGNAL_WRITE_TIMEOUT"`
		MaxMessageSize int64         `yaml:"max_message_size" env:"LANLINK_SIGNAL_MAX_MESSAGE_SIZE"`
		SendBufferSize int           `yaml:"send_buffer_size" env:"LANLINK_SIGNAL_SEND_BUFFER_SIZE"`
	} `yaml:"signal"`

	Presence struct {
		// Evicts an existing peer when a new connection arrives from the same address.
		DedupeByAddress bool   `yaml:"dedupe_by_address" env:"LANLINK_PRESENCE_DEDUPE_BY_ADDRESS"`
		NamePrefix      string `yaml:"name_prefix" env:"LANLINK_PRESENCE_NAME_PREFIX"`
		MaxNameLength   int    `yaml:"max_name_length" env:"LANLINK_PRESENCE_MAX_NAME_LENGTH"`
	} `yaml:"presence"`

	Negotiation struct {
		RequestTTL time.Duration `yaml:"request_ttl" env:"LANLINK_REQUEST_TTL"`
	} `yaml:"negotiation"`

	Uploads struct {
		TempDir           string              `yaml:"temp_dir" env:"LANLINK_UPLOAD_TEMP_DIR"`
		CompletedDir      string              `yaml:"completed_dir" env:"LANLINK_UPLOAD_COMPLETED_DIR"`
		MaxFileSize       int64               `yaml:"max_file_size" env:"LANLINK_UPLOAD_MAX_FILE_SIZE"`
		MaxChunkSize      int64               `yaml:"max_chunk_size" env:"LANLINK_UPLOAD_MAX_CHUNK_SIZE"`
		SessionTTL        time.Duration       `yaml:"session_ttl" env:"LANLINK_UPLOAD_SESSION_TTL"`
		MergeWorkers      int                 `yaml:"merge_workers" env:"LANLINK_UPLOAD_MERGE_WORKERS"`
		DownloadPath      string              `yaml:"download_path" env:"LANLINK_UPLOAD_DOWNLOAD_PATH"`
		AllowedExtensions map[string][]string `yaml:"allowed_extensions"`
	} `yaml:"uploads"`

	Expiry struct {
		Enabled  bool   `yaml:"enabled" env:"LANLINK_EXPIRY_ENABLED"`
		Schedule string `yaml:"schedule" env:"LANLINK_EXPIRY_SCHEDULE"`
	} `yaml:"expiry"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins" env:"LANLINK_CORS_ALLOWED_ORIGINS"`
	} `yaml:"cors"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled" env:"LANLINK_PROMETHEUS_ENABLED"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled" env:"LANLINK_TRACING_ENABLED"`
		ServiceName string  `yaml:"service_name" env:"LANLINK_TRACING_SERVICE_NAME"`
		JaegerURL   string  `yaml:"jaeger_url" env:"LANLINK_TRACING_JAEGER_URL"`
		SampleRate  float64 `yaml:"sample_rate" env:"LANLINK_TRACING_SAMPLE_RATE"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level" env:"LANLINK_LOG_LEVEL"`
		Format string `yaml:"format" env:"LANLINK_LOG_FORMAT"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" env:"LANLINK_REDIS_ENABLED"`
		Address  string `yaml:"address" env:"LANLINK_REDIS_ADDRESS"`
		Password string `yaml:"password" env:"LANLINK_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"LANLINK_REDIS_DB"`
		PoolSize int    `yaml:"pool_size" env:"LANLINK_REDIS_POOL_SIZE"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled" env:"LANLINK_RATE_LIMITING_ENABLED"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server.write_timeout must be >= 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}
	if c.Signal.SendBufferSize <= 0 {
		return fmt.Errorf("signal.send_buffer_size must be > 0")
	}

	// Presence
	if c.Presence.MaxNameLength <= 0 {
		return fmt.Errorf("presence.max_name_length must be > 0")
	}

	// Negotiation
	if c.Negotiation.RequestTTL <= 0 {
		return fmt.Errorf("negotiation.request_ttl must be > 0")
	}

	// Uploads
	if c.Uploads.TempDir == "" || c.Uploads.CompletedDir == "" {
		return fmt.Errorf("uploads.temp_dir and uploads.completed_dir must not be empty")
	}
	if c.Uploads.TempDir == c.Uploads.CompletedDir {
		return fmt.Errorf("uploads.temp_dir and uploads.completed_dir must differ")
	}
	if c.Uploads.MaxFileSize <= 0 {
		return fmt.Errorf("uploads.max_file_size must be > 0")
	}
	if c.Uploads.MaxChunkSize <= 0 {
		return fmt.Errorf("uploads.max_chunk_size must be > 0")
	}
	if c.Uploads.SessionTTL <= 0 {
		return fmt.Errorf("uploads.session_ttl must be > 0")
	}
	if c.Uploads.MergeWorkers <= 0 {
		return fmt.Errorf("uploads.merge_workers must be > 0")
	}
	if c.Uploads.DownloadPath == "" {
		return fmt.Errorf("uploads.download_path must not be empty")
	}

	// Expiry
	if c.Expiry.Enabled && c.Expiry.Schedule == "" {
		return fmt.Errorf("expiry.schedule must not be empty when expiry.enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":5000"
	cfg.Server.ReadTimeout = 5 * time.Minute
	cfg.Server.WriteTimeout = 0
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.Environment = "development"

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageSize = 1 << 20
	cfg.Signal.SendBufferSize = 64

	cfg.Presence.DedupeByAddress = false
	cfg.Presence.NamePrefix = "User_"
	cfg.Presence.MaxNameLength = 50

	cfg.Negotiation.RequestTTL = 2 * time.Minute

	cfg.Uploads.TempDir = "uploads/temp"
	cfg.Uploads.CompletedDir = "uploads/completed"
	cfg.Uploads.MaxFileSize = 10 << 30
	cfg.Uploads.MaxChunkSize = 10 << 20
	cfg.Uploads.SessionTTL = time.Hour
	cfg.Uploads.MergeWorkers = 2
	cfg.Uploads.DownloadPath = "/api/files/download"

	cfg.Expiry.Enabled = true
	cfg.Expiry.Schedule = "@every 1m"

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.CORS.AllowedOrigins = []string{"*"}

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "lanlink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 200
	cfg.RateLimiting.HTTP.Burst = 400
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	return cfg
}

// applyEnvOverrides overwrites fields whose LANLINK_* variable is set.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}
