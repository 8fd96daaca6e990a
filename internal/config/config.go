// Package config loads clipmill settings from an optional TOML file, applies
// defaults and then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that reads "90s" / "24h" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Server struct {
	Port            string   `toml:"port"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxUploadMB     int64    `toml:"max_upload_mb"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Source bool   `toml:"source"`
}

// Scheduler bounds admission and registry lifetime.
type Scheduler struct {
	MaxConcurrentJobs int      `toml:"max_concurrent_jobs"`
	ItemConcurrency   int      `toml:"item_concurrency"`
	MaxVariants       int      `toml:"max_variants"`
	MaxItems          int      `toml:"max_items"`
	JobTTL            Duration `toml:"job_ttl"`
	SweepInterval     Duration `toml:"sweep_interval"`
}

// Pipeline holds per-stage timeouts and the retry policy for failed pairs.
type Pipeline struct {
	TempDir          string   `toml:"temp_dir"`
	FetchTimeout     Duration `toml:"fetch_timeout"`
	TransformTimeout Duration `toml:"transform_timeout"`
	PublishTimeout   Duration `toml:"publish_timeout"`
	RetryAttempts    int      `toml:"retry_attempts"`
	RetryBackoff     Duration `toml:"retry_backoff"`
}

type Transform struct {
	Backend     string `toml:"backend"`
	FFmpegPath  string `toml:"ffmpeg_path"`
	RendererURL string `toml:"renderer_url"`
}

type Storage struct {
	Provider           string `toml:"provider"`
	LocalRoot          string `toml:"local_root"`
	PublicBaseURL      string `toml:"public_base_url"`
	GDriveClientID     string `toml:"gdrive_client_id"`
	GDriveClientSecret string `toml:"gdrive_client_secret"`
	GDriveRefreshToken string `toml:"gdrive_refresh_token"`
	GDriveFolderID     string `toml:"gdrive_folder_id"`
	S3Bucket           string `toml:"s3_bucket"`
	S3Region           string `toml:"s3_region"`
	S3PublicBaseURL    string `toml:"s3_public_base_url"`
}

type Content struct {
	PoolsFile string `toml:"pools_file"`
}

type Redis struct {
	Addr          string `toml:"addr"`
	StatusPrefix  string `toml:"status_prefix"`
	IntakeQueue   string `toml:"intake_queue"`
	IntakeEnabled bool   `toml:"intake_enabled"`
}

type Postgres struct {
	URL string `toml:"url"`
}

type Kafka struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type CORS struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Config is the full process configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Log       Log       `toml:"log"`
	Scheduler Scheduler `toml:"scheduler"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Transform Transform `toml:"transform"`
	Storage   Storage   `toml:"storage"`
	Content   Content   `toml:"content"`
	Redis     Redis     `toml:"redis"`
	Postgres  Postgres  `toml:"postgres"`
	Kafka     Kafka     `toml:"kafka"`
	CORS      CORS      `toml:"cors"`
}

// Load reads path (if non-empty and present), fills defaults, applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Missing file means defaults + env only.
		case err != nil:
			return nil, fmt.Errorf("open config %s: %w", path, err)
		default:
			defer file.Close()
			decoder := toml.NewDecoder(file)
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes TOML bytes on top of the defaults without touching the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Transform.Backend = strings.ToLower(strings.TrimSpace(c.Transform.Backend))
	c.Storage.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Provider))
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	c.Storage.S3PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.S3PublicBaseURL), "/")
	c.Kafka.Brokers = compact(c.Kafka.Brokers)
	c.CORS.AllowedOrigins = compact(c.CORS.AllowedOrigins)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrentJobs < 1 {
		return fmt.Errorf("scheduler.max_concurrent_jobs must be >= 1")
	}
	if c.Scheduler.ItemConcurrency < 1 {
		return fmt.Errorf("scheduler.item_concurrency must be >= 1")
	}
	if c.Scheduler.MaxVariants < 1 {
		return fmt.Errorf("scheduler.max_variants must be >= 1")
	}
	if c.Scheduler.MaxItems < 1 {
		return fmt.Errorf("scheduler.max_items must be >= 1")
	}
	if c.Pipeline.RetryAttempts < 0 {
		return fmt.Errorf("pipeline.retry_attempts must be >= 0")
	}
	for name, d := range map[string]Duration{
		"pipeline.fetch_timeout":     c.Pipeline.FetchTimeout,
		"pipeline.transform_timeout": c.Pipeline.TransformTimeout,
		"pipeline.publish_timeout":   c.Pipeline.PublishTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	switch c.Transform.Backend {
	case "ffmpeg":
	case "http":
		if c.Transform.RendererURL == "" {
			return fmt.Errorf("transform.renderer_url is required for the http backend")
		}
	default:
		return fmt.Errorf("unknown transform.backend: %s", c.Transform.Backend)
	}

	switch c.Storage.Provider {
	case "localfs":
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("storage.local_root is required for localfs")
		}
	case "gdrive":
		if c.Storage.GDriveClientID == "" || c.Storage.GDriveClientSecret == "" || c.Storage.GDriveRefreshToken == "" {
			return fmt.Errorf("storage.gdrive_client_id, gdrive_client_secret and gdrive_refresh_token are required for gdrive")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required for s3")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.provider: %s", c.Storage.Provider)
	}

	if c.Redis.IntakeEnabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis.intake_enabled is set")
	}
	return nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
