package handlers

import (
	"context"

	"clipmill/internal/batch"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/logger"
	"clipmill/internal/ports"

	"github.com/redis/go-redis/v9"
)

// Batches is the scheduler surface the handlers drive.
type Batches interface {
	Submit(ctx context.Context, items []pipeline.Item, opts batch.Options) (batch.Snapshot, error)
	SubmitByReference(ctx context.Context, paths []string, opts batch.Options) (string, error)
	Status(id string) (batch.Snapshot, error)
	Jobs() []batch.Snapshot
	QueueDepth() int
}

// Capacity reports limiter occupancy for the health endpoint.
type Capacity interface {
	InFlight() int
	Max() int
}

type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

type PostgresPinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Batches  Batches
	Capacity Capacity
	SP       ports.StorageProvider
	Log      *logger.Logger

	// Optional; deep health checks skip what is nil.
	RDB  RedisPinger
	Pool PostgresPinger

	MaxUploadBytes int64
}

type Handler struct {
	batches  Batches
	capacity Capacity
	sp       ports.StorageProvider
	log      *logger.Logger
	rdb      RedisPinger
	pool     PostgresPinger

	maxUpload int64
}

func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = logger.NewDefault()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 512 << 20
	}
	return &Handler{
		batches:   d.Batches,
		capacity:  d.Capacity,
		sp:        d.SP,
		log:       d.Log,
		rdb:       d.RDB,
		pool:      d.Pool,
		maxUpload: d.MaxUploadBytes,
	}
}
