package tasks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/slackreports/pkg/models"
)

// ValidTransition reports whether a task may move from one state to another.
// PENDING -> PROGRESS* -> SUCCESS | FAILURE; terminal states never change.
func ValidTransition(from, to models.TaskState) bool {
	switch from {
	case models.TaskPending, models.TaskProgress:
		return to == models.TaskProgress || to == models.TaskSuccess || to == models.TaskFailure
	default:
		return false
	}
}

// TransitionError is returned by stores asked to perform an invalid transition
type TransitionError struct {
	ID   string
	From models.TaskState
	To   models.TaskState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// StateStore records task state transitions on behalf of the external task queue
type StateStore interface {
	MarkProgress(ctx context.Context, id string, p models.Progress) error
	Complete(ctx context.Context, id string, result any) error
	Fail(ctx context.Context, id string, reason string) error
}

// ProgressSink receives a checkpoint after every completed chunk
type ProgressSink interface {
	Progress(ctx context.Context, p models.Progress) error
}

// ProgressFunc adapts a function to ProgressSink
type ProgressFunc func(ctx context.Context, p models.Progress) error

func (f ProgressFunc) Progress(ctx context.Context, p models.Progress) error {
	return f(ctx, p)
}

// Discard is a ProgressSink that drops every checkpoint
var Discard ProgressSink = ProgressFunc(func(context.Context, models.Progress) error { return nil })

// storeSink publishes checkpoints of task id to a StateStore
type storeSink struct {
	store StateStore
	id    string
}

func (s storeSink) Progress(ctx context.Context, p models.Progress) error {
	return s.store.MarkProgress(ctx, s.id, p)
}

// Execute runs fn for task id and records its terminal state: SUCCESS with the
// result, or FAILURE with the error text. No partial result is stored on failure.
func Execute(ctx context.Context, store StateStore, id string, fn func(ctx context.Context, sink ProgressSink) (any, error)) error {
	logger := zerolog.Ctx(ctx)

	result, err := fn(ctx, storeSink{store: store, id: id})
	if err != nil {
		logger.Error().Err(err).Msg("Task failed")
		// The task context may already be cancelled; the failure must still be recorded.
		if ferr := store.Fail(context.WithoutCancel(ctx), id, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to record task failure")
		}
		return err
	}

	// A deadline that fires after the last chunk must not leave the task in PROGRESS.
	detached := context.WithoutCancel(ctx)
	if err := store.Complete(detached, id, result); err != nil {
		err = fmt.Errorf("failed to record task result: %w", err)
		logger.Error().Err(err).Msg("Task result lost")
		if ferr := store.Fail(detached, id, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to record task failure")
		}
		return err
	}
	logger.Info().Msg("Task succeeded")
	return nil
}
