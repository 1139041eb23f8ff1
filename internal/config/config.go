package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. PV_SOCKET_PATH
const EnvPrefix = "PV"

// DefaultConfigFile is picked up from the working directory when no path is given
const DefaultConfigFile = "config.yml"

// Config holds all configuration for the perception-voice service and client.
// Precedence: environment > YAML file > Defaults().
type Config struct {
	// Socket server configuration
	SocketPath      string        `envconfig:"SOCKET_PATH" yaml:"socket_path"` // Relative paths resolve against the config file directory
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" yaml:"read_timeout"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
	MaxMessageSize  int           `envconfig:"MAX_MESSAGE_SIZE" yaml:"max_message_size"` // Bytes per frame
	MaxConnections  int           `envconfig:"MAX_CONNECTIONS" yaml:"max_connections"`   // Concurrent socket handlers

	// Transcript buffer configuration
	RetentionMinutes int           `envconfig:"BUFFER_RETENTION_MINUTES" yaml:"buffer_retention_minutes"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" yaml:"sweep_interval"`
	DiscardPhrases   []string      `envconfig:"DISCARD_PHRASES" yaml:"discard_phrases"` // Comma separated in the environment
	MaxCursors       int           `envconfig:"MAX_CURSORS" yaml:"max_cursors"`         // 0 = unbounded

	// Client configuration
	ClientTimeout       time.Duration `envconfig:"CLIENT_TIMEOUT" yaml:"client_timeout"`
	ClientRetryAttempts int           `envconfig:"CLIENT_RETRY_ATTEMPTS" yaml:"client_retry_attempts"`
	ClientRetryBackoff  time.Duration `envconfig:"CLIENT_RETRY_BACKOFF" yaml:"client_retry_backoff"`

	// HTTP side channel: health, readiness, metrics and the ingest websocket. Empty disables it.
	// The ingest endpoint is unauthenticated, so it is off unless explicitly enabled.
	HTTPAddr      string `envconfig:"HTTP_ADDR" yaml:"http_addr"`
	IngestEnabled bool   `envconfig:"INGEST_ENABLED" yaml:"ingest_enabled"`

	// gRPC health service address. Empty disables it.
	GRPCHealthAddr string `envconfig:"GRPC_HEALTH_ADDR" yaml:"grpc_health_addr"`

	// Deepgram STT configuration. No API key means no built-in audio transcription.
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" yaml:"deepgram_api_key"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" yaml:"deepgram_model"`       // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" yaml:"deepgram_language"` // Language code (en, es, fr, etc.)

	// Audio configuration for the ingest stream
	AudioEncoding   string `envconfig:"AUDIO_ENCODING" yaml:"audio_encoding"` // linear16 or mulaw
	AudioSampleRate int    `envconfig:"AUDIO_SAMPLE_RATE" yaml:"audio_sample_rate"`
	AudioBufferSize int    `envconfig:"AUDIO_BUFFER_SIZE" yaml:"audio_buffer_size"` // Ring buffer size in bytes
	AudioFrameMs    int    `envconfig:"AUDIO_FRAME_MS" yaml:"audio_frame_ms"`

	// Voice activity detection
	VADEnabled         bool    `envconfig:"VAD_ENABLED" yaml:"vad_enabled"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" yaml:"vad_energy_threshold"` // RMS energy threshold
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" yaml:"vad_silence_frames"`     // Frames of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" yaml:"circuit_breaker_max_failures"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" yaml:"circuit_breaker_reset_timeout"`
	ReconnectMaxAttempts       int           `envconfig:"RECONNECT_MAX_ATTEMPTS" yaml:"reconnect_max_attempts"`
	ReconnectBackoff           time.Duration `envconfig:"RECONNECT_BACKOFF" yaml:"reconnect_backoff"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" yaml:"log_level"` // trace, debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" yaml:"log_pretty"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" yaml:"metrics_enabled"`

	// Dir is where relative paths resolve; the config file's directory or the working directory
	Dir string `yaml:"-" ignored:"true"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		SocketPath:      "perception-voice.sock",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxMessageSize:  1024 * 1024,
		MaxConnections:  64,

		RetentionMinutes: 30,
		SweepInterval:    30 * time.Second,

		ClientTimeout:       5 * time.Second,
		ClientRetryAttempts: 3,
		ClientRetryBackoff:  100 * time.Millisecond,

		HTTPAddr:      "127.0.0.1:9464",
		IngestEnabled: false,

		DeepgramModel:    "nova-2",
		DeepgramLanguage: "en",

		AudioEncoding:   "linear16",
		AudioSampleRate: 16000,
		AudioBufferSize: 64000,
		AudioFrameMs:    20,

		VADEnabled:         true,
		VADEnergyThreshold: 500.0,
		VADSilenceFrames:   30, // 600ms at 20ms frames

		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30 * time.Second,
		ReconnectMaxAttempts:       5,
		ReconnectBackoff:           time.Second,

		LogLevel:       "info",
		LogPretty:      false,
		MetricsEnabled: true,
	}
}

// Load builds the configuration from, in increasing precedence, the defaults, the YAML file
// at path (or ./config.yml when path is empty and the file exists) and PV_* environment
// variables. A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := Defaults()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.processEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	c.Dir = filepath.Dir(abs)
	return nil
}

func (c *Config) processEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		c.Dir = wd
	}
	return c.Validate()
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("socket_path is required")
	}
	if c.RetentionMinutes <= 0 {
		return fmt.Errorf("buffer_retention_minutes must be positive, got %d", c.RetentionMinutes)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.MaxCursors < 0 {
		return fmt.Errorf("max_cursors must not be negative, got %d", c.MaxCursors)
	}
	switch c.AudioEncoding {
	case "linear16", "mulaw":
	default:
		return fmt.Errorf("audio_encoding must be linear16 or mulaw, got %q", c.AudioEncoding)
	}
	if c.AudioSampleRate <= 0 || c.AudioFrameMs <= 0 {
		return errors.New("audio_sample_rate and audio_frame_ms must be positive")
	}
	return nil
}

// SocketFile returns the absolute socket path
func (c *Config) SocketFile() string {
	if filepath.IsAbs(c.SocketPath) || c.Dir == "" {
		return c.SocketPath
	}
	return filepath.Join(c.Dir, c.SocketPath)
}

// Retention returns the retention window as a duration
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// STTEnabled reports whether built-in Deepgram transcription is configured
func (c *Config) STTEnabled() bool {
	return c.DeepgramAPIKey != ""
}
