package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays environment variables. The short names (HTTP_PORT,
// REDIS_ADDR, DATABASE_URL, ...) match the deployment manifests; the
// CLIPMILL_* names cover everything else.
func (c *Config) applyEnv() {
	c.Server.Port = Env("HTTP_PORT", c.Server.Port)

	c.Log.Level = Env("LOG_LEVEL", c.Log.Level)
	c.Log.Format = Env("LOG_FORMAT", c.Log.Format)
	c.Log.Source = BoolEnv("LOG_SOURCE", c.Log.Source)

	c.Scheduler.MaxConcurrentJobs = IntEnv("CLIPMILL_MAX_CONCURRENT_JOBS", c.Scheduler.MaxConcurrentJobs)
	c.Scheduler.ItemConcurrency = IntEnv("CLIPMILL_ITEM_CONCURRENCY", c.Scheduler.ItemConcurrency)
	c.Scheduler.MaxVariants = IntEnv("CLIPMILL_MAX_VARIANTS", c.Scheduler.MaxVariants)
	c.Scheduler.MaxItems = IntEnv("CLIPMILL_MAX_ITEMS", c.Scheduler.MaxItems)
	c.Scheduler.JobTTL.Duration = DurationEnv("CLIPMILL_JOB_TTL", c.Scheduler.JobTTL.Duration)

	c.Pipeline.TempDir = Env("CLIPMILL_TEMP_DIR", c.Pipeline.TempDir)
	c.Pipeline.FetchTimeout.Duration = DurationEnv("CLIPMILL_FETCH_TIMEOUT", c.Pipeline.FetchTimeout.Duration)
	c.Pipeline.TransformTimeout.Duration = DurationEnv("CLIPMILL_TRANSFORM_TIMEOUT", c.Pipeline.TransformTimeout.Duration)
	c.Pipeline.PublishTimeout.Duration = DurationEnv("CLIPMILL_PUBLISH_TIMEOUT", c.Pipeline.PublishTimeout.Duration)
	c.Pipeline.RetryAttempts = IntEnv("CLIPMILL_RETRY_ATTEMPTS", c.Pipeline.RetryAttempts)

	c.Transform.Backend = Env("CLIPMILL_TRANSFORM_BACKEND", c.Transform.Backend)
	c.Transform.FFmpegPath = Env("FFMPEG_PATH", c.Transform.FFmpegPath)
	c.Transform.RendererURL = Env("RENDERER_HTTP_BASEURL", c.Transform.RendererURL)

	c.Storage.Provider = Env("STORAGE_PROVIDER", c.Storage.Provider)
	c.Storage.LocalRoot = Env("STORAGE_LOCAL_ROOT", c.Storage.LocalRoot)
	c.Storage.PublicBaseURL = Env("STORAGE_PUBLIC_BASE_URL", c.Storage.PublicBaseURL)
	c.Storage.GDriveClientID = Env("GDRIVE_CLIENT_ID", c.Storage.GDriveClientID)
	c.Storage.GDriveClientSecret = Env("GDRIVE_CLIENT_SECRET", c.Storage.GDriveClientSecret)
	c.Storage.GDriveRefreshToken = Env("GDRIVE_REFRESH_TOKEN", c.Storage.GDriveRefreshToken)
	c.Storage.GDriveFolderID = Env("GDRIVE_FOLDER_ID", c.Storage.GDriveFolderID)
	c.Storage.S3Bucket = Env("S3_BUCKET", c.Storage.S3Bucket)
	c.Storage.S3Region = Env("AWS_REGION", c.Storage.S3Region)
	c.Storage.S3PublicBaseURL = Env("S3_PUBLIC_BASE_URL", c.Storage.S3PublicBaseURL)

	c.Content.PoolsFile = Env("CLIPMILL_POOLS_FILE", c.Content.PoolsFile)

	c.Redis.Addr = Env("REDIS_ADDR", c.Redis.Addr)
	c.Redis.IntakeQueue = Env("CLIPMILL_INTAKE_QUEUE", c.Redis.IntakeQueue)
	c.Redis.IntakeEnabled = BoolEnv("CLIPMILL_INTAKE_ENABLED", c.Redis.IntakeEnabled)

	c.Postgres.URL = Env("DATABASE_URL", c.Postgres.URL)

	c.Kafka.Brokers = CSVEnv("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = Env("KAFKA_TOPIC", c.Kafka.Topic)

	c.CORS.AllowedOrigins = CSVEnv("CORS_ALLOWED_ORIGINS", c.CORS.AllowedOrigins)
}

// Env returns the trimmed value of k or def when unset.
func Env(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

// BoolEnv reads an env var as bool. If empty or invalid, returns def.
// strconv.ParseBool accepts: 1,t,T,TRUE,true,True,0,f,F,FALSE,false,False.
func BoolEnv(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func IntEnv(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func DurationEnv(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// CSVEnv splits a comma separated variable, dropping blanks.
func CSVEnv(k string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return def
	}
	out := compact(strings.Split(raw, ","))
	if len(out) == 0 {
		return def
	}
	return out
}
