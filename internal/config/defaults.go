package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			ShutdownTimeout: Duration{30 * time.Second},
			MaxUploadMB:     512,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		Scheduler: Scheduler{
			MaxConcurrentJobs: 1,
			ItemConcurrency:   4,
			MaxVariants:       10,
			MaxItems:          50,
			JobTTL:            Duration{24 * time.Hour},
			SweepInterval:     Duration{5 * time.Minute},
		},
		Pipeline: Pipeline{
			TempDir:          filepath.Join(os.TempDir(), "clipmill"),
			FetchTimeout:     Duration{120 * time.Second},
			TransformTimeout: Duration{240 * time.Second},
			PublishTimeout:   Duration{180 * time.Second},
			RetryAttempts:    1,
			RetryBackoff:     Duration{2 * time.Second},
		},
		Transform: Transform{
			Backend:    "ffmpeg",
			FFmpegPath: "ffmpeg",
		},
		Storage: Storage{
			Provider:  "localfs",
			LocalRoot: "/data",
		},
		Redis: Redis{
			StatusPrefix: "clipmill:job:",
			IntakeQueue:  "clipmill:submissions",
		},
		Kafka: Kafka{
			Topic: "clipmill.batches",
		},
		CORS: CORS{
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8081"},
		},
	}
}
