// Package intake feeds batch requests pushed to a Redis list into the
// scheduler, so producers without HTTP access can submit work.
package intake

import (
	"context"
	"errors"
	"time"

	"clipmill/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("intake")

	popTimeout := d.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 30 * time.Second
	}
	backoff := d.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("intake context canceled, stopping")
			return ctx.Err()
		default:
		}

		popCtx, cancel := context.WithTimeout(ctx, popTimeout)
		raw, err := d.Queue.Pop(popCtx)
		expired := popCtx.Err() != nil
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				log.Info("intake stopping due to context cancellation")
				return ctx.Err()
			}
			// sin mensajes en la ventana de espera
			if expired || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
				continue
			}

			log.Warn("queue pop error, retrying", "error", err.Error())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			continue
		}

		if raw == "" {
			continue
		}
		handle(ctx, d.Submitter, raw, log)
	}
}

func handle(ctx context.Context, sub Submitter, raw string, log *logger.Logger) {
	req, err := ParseRequest(raw)
	if err != nil {
		log.Warn("dropping malformed request", "error", err.Error())
		return
	}

	jobID, err := sub.SubmitByReference(ctx, req.Paths, req.Options)
	if err != nil {
		log.Error("submit failed", "error", err.Error(), "items", len(req.Paths))
		return
	}
	log.WithJobID(jobID).Info("batch queued from intake", "items", len(req.Paths))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
