package pipeline

import (
	"context"
	"fmt"
	"time"

	"clipmill/internal/pkg/errors"
)

// runStage races fn against its timeout. The stage context is cancelled when
// the timer wins so well-behaved operations stop early; a panic in fn becomes
// a stage failure.
func runStage(ctx context.Context, stage string, timeout time.Duration, fn func(context.Context) error) error {
	sctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if timedOut(ctx, sctx) {
			return errors.StageTimeout(stage, timeout)
		}
		return errors.StageFailed(stage, err)
	case <-sctx.Done():
		if timedOut(ctx, sctx) {
			return errors.StageTimeout(stage, timeout)
		}
		return errors.StageFailed(stage, sctx.Err())
	}
}

// timedOut distinguishes our own timer from cancellation of the parent.
func timedOut(parent, stage context.Context) bool {
	return parent.Err() == nil && stage.Err() == context.DeadlineExceeded
}

// failureOf turns a stage error into the record stored on the job.
func failureOf(err error) *Failure {
	f := &Failure{Stage: errors.StageOf(err), Message: err.Error()}
	var e *errors.Error
	if errors.As(err, &e) {
		f.Message = e.Message
	}
	if f.Stage == "" {
		f.Stage = "pipeline"
	}
	return f
}
