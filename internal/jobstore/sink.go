// Package jobstore mirrors job snapshots to external stores so other
// processes and dashboards can read job state. Nothing is read back on
// start: the in-memory registry stays the source of truth.
package jobstore

import (
	"context"
	"errors"
	"time"

	"clipmill/internal/batch"
	"clipmill/internal/pkg/logger"
)

type Sink interface {
	Save(ctx context.Context, snap batch.Snapshot) error
}

// Multi fans a snapshot out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Save(ctx context.Context, snap batch.Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mirror adapts a sink to a job observer. Sink failures are logged and never
// affect the job.
func Mirror(sink Sink, timeout time.Duration, log *logger.Logger) func(batch.Snapshot) {
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("jobstore")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(snap batch.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := sink.Save(ctx, snap); err != nil {
			log.Warn("status mirror failed", "job_id", snap.ID, "status", snap.Status, "error", err)
		}
	}
}
