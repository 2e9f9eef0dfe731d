package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slackreports/pkg/models"
)

// Schema creates the task table; applied by database.Migrate
const Schema = `
CREATE TABLE IF NOT EXISTS report_tasks (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	state       TEXT NOT NULL,
	progress    JSONB,
	result      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`

// Postgres is the Store shared by the API server and the workers
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store on an existing pool
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Create(ctx context.Context, kind models.TaskKind) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO report_tasks (id, kind, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, id, string(kind), string(models.TaskPending), now)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	return id, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (models.TaskStatus, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.TaskStatus{}, ErrNotFound
	}

	var (
		status   models.TaskStatus
		kind     string
		state    string
		progress []byte
		result   []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, kind, state, progress, result, error, created_at, updated_at
		FROM report_tasks WHERE id = $1
	`, id).Scan(&status.ID, &kind, &state, &progress, &result, &status.Error, &status.CreatedAt, &status.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TaskStatus{}, ErrNotFound
	}
	if err != nil {
		return models.TaskStatus{}, fmt.Errorf("failed to load task %s: %w", id, err)
	}

	status.Kind = models.TaskKind(kind)
	status.State = models.TaskState(state)
	if len(progress) > 0 {
		var pr models.Progress
		if err := json.Unmarshal(progress, &pr); err != nil {
			return models.TaskStatus{}, fmt.Errorf("failed to decode progress of task %s: %w", id, err)
		}
		status.Progress = &pr
	}
	if len(result) > 0 {
		status.Result = json.RawMessage(result)
	}
	return status, nil
}

// transition locks the row, validates the move and applies set
func (p *Postgres) transition(ctx context.Context, id string, to models.TaskState, set string, args ...any) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var state string
		err := tx.QueryRow(ctx, `SELECT state FROM report_tasks WHERE id = $1 FOR UPDATE`, id).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock task %s: %w", id, err)
		}

		status := models.TaskStatus{ID: id, State: models.TaskState(state)}
		if err := apply(&status, to); err != nil {
			return err
		}

		query := fmt.Sprintf(`UPDATE report_tasks SET state = $1, updated_at = $2, %s WHERE id = $3`, set)
		params := append([]any{string(to), time.Now().UTC(), id}, args...)
		if _, err := tx.Exec(ctx, query, params...); err != nil {
			return fmt.Errorf("failed to update task %s: %w", id, err)
		}
		return nil
	})
}

func (p *Postgres) MarkProgress(ctx context.Context, id string, pr models.Progress) error {
	payload, err := json.Marshal(pr)
	if err != nil {
		return err
	}
	return p.transition(ctx, id, models.TaskProgress, `progress = $4`, payload)
}

func (p *Postgres) Complete(ctx context.Context, id string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result of task %s: %w", id, err)
	}
	return p.transition(ctx, id, models.TaskSuccess, `result = $4`, payload)
}

func (p *Postgres) Fail(ctx context.Context, id string, reason string) error {
	return p.transition(ctx, id, models.TaskFailure, `result = NULL, error = $4`, reason)
}
