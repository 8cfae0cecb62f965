package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/iconidentify/clipvault/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Discord    DiscordConfig    `yaml:"discord"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Worker     WorkerConfig     `yaml:"worker"`
	Download   DownloadConfig   `yaml:"download"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Encode     EncodeConfig     `yaml:"encode"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Log        LogConfig        `yaml:"log"`
}

// DiscordConfig holds chat platform credentials.
type DiscordConfig struct {
	Token string `yaml:"token" envconfig:"DISCORD_TOKEN"`
}

// ServerConfig holds the operational HTTP server configuration.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"SERVER_ENABLED" default:"true"`
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"9848"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
}

// StorageConfig holds local scratch storage configuration.
type StorageConfig struct {
	TempPath     string `yaml:"temp_path" envconfig:"STORAGE_TEMP_PATH" default:"/tmp/clipvault"`
	MinFreeBytes int64  `yaml:"min_free_bytes" envconfig:"STORAGE_MIN_FREE_BYTES" default:"268435456"` // 256MiB, 0 disables
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count        int           `yaml:"count" envconfig:"WORKER_COUNT" default:"4"`
	QueueSize    int           `yaml:"queue_size" envconfig:"WORKER_QUEUE_SIZE" default:"64"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
}

// DownloadConfig holds direct-stream download configuration.
type DownloadConfig struct {
	Timeout           time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"30s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT" default:"60s"`
	ChunkSize         int           `yaml:"chunk_size" envconfig:"DOWNLOAD_CHUNK_SIZE" default:"32768"`
	ChallengeAttempts int           `yaml:"challenge_attempts" envconfig:"DOWNLOAD_CHALLENGE_ATTEMPTS" default:"2"`
	ChallengeDelay    time.Duration `yaml:"challenge_delay" envconfig:"DOWNLOAD_CHALLENGE_DELAY" default:"1s"`
	UserAgent         string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
}

// ExtractorConfig holds yt-dlp configuration.
type ExtractorConfig struct {
	Binary       string        `yaml:"binary" envconfig:"EXTRACTOR_BINARY" default:"yt-dlp"`
	Format       string        `yaml:"format" envconfig:"EXTRACTOR_FORMAT" default:"bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b"`
	Accept       string        `yaml:"accept" envconfig:"EXTRACTOR_ACCEPT" default:"*/*"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" envconfig:"EXTRACTOR_PROBE_TIMEOUT" default:"45s"`
}

// EncodeConfig holds the size budget and transcoder configuration.
type EncodeConfig struct {
	FFmpegPath    string        `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath   string        `yaml:"ffprobe_path" envconfig:"FFPROBE_PATH" default:"ffprobe"`
	MaxBytes      int64         `yaml:"max_bytes" envconfig:"ENCODE_MAX_BYTES" default:"10485760"` // 10MiB
	AudioBitrate  int64         `yaml:"audio_bitrate" envconfig:"ENCODE_AUDIO_BITRATE" default:"128000"`
	VideoCodec    string        `yaml:"video_codec" envconfig:"ENCODE_VIDEO_CODEC" default:"libx264"`
	Preset        string        `yaml:"preset" envconfig:"ENCODE_PRESET" default:"medium"`
	MaxConcurrent int           `yaml:"max_concurrent" envconfig:"ENCODE_MAX_CONCURRENT"` // 0 = derived from CPU count
	Timeout       time.Duration `yaml:"timeout" envconfig:"ENCODE_TIMEOUT" default:"15m"`
}

// ArchiveConfig holds the archive channel naming convention.
type ArchiveConfig struct {
	ChannelName  string `yaml:"channel_name" envconfig:"ARCHIVE_CHANNEL_NAME" default:"webm-archive"`
	ChannelMatch string `yaml:"channel_match" envconfig:"ARCHIVE_CHANNEL_MATCH" default:"webm-archive"`
}

// PipelineConfig holds per-invocation behavior.
type PipelineConfig struct {
	Timeout        time.Duration `yaml:"timeout" envconfig:"PIPELINE_TIMEOUT" default:"20m"`
	NotifyFailures bool          `yaml:"notify_failures" envconfig:"PIPELINE_NOTIFY_FAILURES" default:"true"`
}

// DedupConfig selects the dedup store driver.
type DedupConfig struct {
	Driver string `yaml:"driver" envconfig:"DEDUP_DRIVER" default:"memory"`
	DSN    string `yaml:"dsn" envconfig:"DEDUP_DSN" default:"file:clipvault-dedup?mode=memory&cache=shared"`
}

// ClassifierConfig holds the link rules. An empty list means DefaultRules.
type ClassifierConfig struct {
	Rules           []RuleConfig `yaml:"rules" ignored:"true"`
	MediaExtensions []string     `yaml:"media_extensions" ignored:"true"`
}

// RuleConfig maps a URL pattern to a retrieval backend.
type RuleConfig struct {
	Backend string `yaml:"backend"`
	Pattern string `yaml:"pattern"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT" default:"json"`
}

// DefaultRules are used when no classifier rules are configured.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Backend: "direct", Pattern: `^https?://(i|is2)\.4cdn\.org/`},
		{Backend: "extractor", Pattern: `^https?://(www\.|mobile\.)?(twitter|x)\.com/[^/]+/status/\d+`},
		{Backend: "extractor", Pattern: `^https?://(www\.|old\.)?reddit\.com/r/[^/]+/comments/`},
		{Backend: "extractor", Pattern: `^https?://(www\.|vm\.|m\.)?tiktok\.com/`},
		{Backend: "extractor", Pattern: `^https?://(www\.)?instagram\.com/reels?/`},
		{Backend: "extractor", Pattern: `^https?://(www\.)?youtube\.com/shorts/`},
	}
}

// DefaultMediaExtensions are the direct-link extensions that qualify a message.
func DefaultMediaExtensions() []string {
	return []string{".webm", ".mp4"}
}

// Load reads configuration from defaults, the YAML file and environment
// variables, in increasing order of precedence. Only variables that are set
// override the file; unset ones leave file values alone.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Defaults plus whatever the environment sets.
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	fromEnv := *cfg

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		// Re-apply the variables that are actually set.
		overlayEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(&fromEnv).Elem())
	}

	if len(cfg.Classifier.Rules) == 0 {
		cfg.Classifier.Rules = DefaultRules()
	}
	if len(cfg.Classifier.MediaExtensions) == 0 {
		cfg.Classifier.MediaExtensions = DefaultMediaExtensions()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if c.Storage.TempPath == "" {
		return fmt.Errorf("STORAGE_TEMP_PATH is required")
	}
	if c.Encode.MaxBytes <= 0 {
		return fmt.Errorf("ENCODE_MAX_BYTES must be positive")
	}
	if c.Encode.AudioBitrate <= 0 {
		return fmt.Errorf("ENCODE_AUDIO_BITRATE must be positive")
	}
	if c.Archive.ChannelName == "" {
		return fmt.Errorf("ARCHIVE_CHANNEL_NAME is required")
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must not be negative")
	}
	switch c.Dedup.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown DEDUP_DRIVER %q", c.Dedup.Driver)
	}
	for i, r := range c.Classifier.Rules {
		if _, err := domain.ParseBackend(r.Backend); err != nil {
			return fmt.Errorf("classifier rule %d: %w", i, err)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("classifier rule %d: %w", i, err)
		}
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ArchiveMatch returns the substring used to recognize an existing archive channel.
func (c *ArchiveConfig) ArchiveMatch() string {
	if c.ChannelMatch != "" {
		return c.ChannelMatch
	}
	return c.ChannelName
}

// overlayEnv copies into dst every field of src whose envconfig variable is
// present in the environment. Nested sections are walked recursively.
func overlayEnv(dst, src reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("ignored") == "true" {
			continue
		}

		name := field.Tag.Get("envconfig")
		if name == "" {
			if field.Type.Kind() == reflect.Struct {
				overlayEnv(dst.Field(i), src.Field(i))
			}
			continue
		}
		if _, ok := os.LookupEnv(name); ok {
			dst.Field(i).Set(src.Field(i))
		}
	}
}
