package intake

import (
	"context"
	"time"

	"clipmill/internal/batch"
	"clipmill/internal/pkg/logger"
)

// Queue delivers raw batch requests, one per Pop.
type Queue interface {
	Pop(ctx context.Context) (string, error)
}

// Submitter admits a batch of stored objects for asynchronous processing.
type Submitter interface {
	SubmitByReference(ctx context.Context, paths []string, opts batch.Options) (string, error)
}

type Deps struct {
	Queue     Queue
	Submitter Submitter
	Log       *logger.Logger

	// PopTimeout bounds each blocking pop; Backoff is the pause after a
	// queue error.
	PopTimeout time.Duration
	Backoff    time.Duration
}
