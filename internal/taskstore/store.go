// Package taskstore keeps the externally visible state of background tasks:
// PENDING, PROGRESS with the last checkpoint, then SUCCESS with the result or
// FAILURE with the error text.
package taskstore

import (
	"context"
	"errors"

	"github.com/slackreports/internal/tasks"
	"github.com/slackreports/pkg/models"
)

// ErrNotFound is returned for an unknown task id
var ErrNotFound = errors.New("task not found")

// Store records and reports task state
type Store interface {
	tasks.StateStore

	// Create registers a new PENDING task and returns its id
	Create(ctx context.Context, kind models.TaskKind) (string, error)
	Get(ctx context.Context, id string) (models.TaskStatus, error)
}

// apply moves status to state, enforcing the task lifecycle
func apply(status *models.TaskStatus, to models.TaskState) error {
	if !tasks.ValidTransition(status.State, to) {
		return &tasks.TransitionError{ID: status.ID, From: status.State, To: to}
	}
	status.State = to
	return nil
}
