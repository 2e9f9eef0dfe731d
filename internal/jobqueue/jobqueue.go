/*
Package jobqueue runs report tasks on a River job queue backed by Postgres.

Each job carries the id of a task created in the task store beforehand; the
worker records PROGRESS checkpoints and the terminal state there. See
queue_config.go for the tunable parameters.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/slackreports/internal/chunker"
	"github.com/slackreports/internal/logging"
	"github.com/slackreports/internal/taskstore"
	"github.com/slackreports/internal/tasks"
	"github.com/slackreports/pkg/models"
)

// singleAttempt is shared by all report jobs: failures are final
var singleAttempt = river.InsertOpts{MaxAttempts: 1}

// FetchMessagesArgs represents the arguments for a message export job
type FetchMessagesArgs struct {
	TaskID    string `json:"task_id"`
	ChannelID string `json:"channel_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Kind returns the job kind for River
func (FetchMessagesArgs) Kind() string { return string(models.KindFetchMessages) }

// InsertOpts disables River retries for the job
func (FetchMessagesArgs) InsertOpts() river.InsertOpts { return singleAttempt }

// TopRepliersArgs represents the arguments for a top-repliers job
type TopRepliersArgs struct {
	TaskID    string `json:"task_id"`
	ChannelID string `json:"channel_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	TopN      int    `json:"top_n"`
}

func (TopRepliersArgs) Kind() string                  { return string(models.KindTopRepliers) }
func (TopRepliersArgs) InsertOpts() river.InsertOpts { return singleAttempt }

// SummarizeThreadArgs represents the arguments for a thread summary job
type SummarizeThreadArgs struct {
	TaskID    string `json:"task_id"`
	ChannelID string `json:"channel_id"`
	ThreadTS  string `json:"thread_ts"`
	Provider  string `json:"provider"`
}

func (SummarizeThreadArgs) Kind() string                  { return string(models.KindSummarizeThread) }
func (SummarizeThreadArgs) InsertOpts() river.InsertOpts { return singleAttempt }

// taskEnv is what every worker needs to run a task
type taskEnv struct {
	runner *tasks.Runner
	store  tasks.StateStore
	config *QueueConfig
}

// run executes fn as task id with a task logger in the context. A failure is
// recorded in the store, reported to Sentry and cancels the job.
func (e *taskEnv) run(ctx context.Context, id string, kind models.TaskKind, fn func(ctx context.Context, sink tasks.ProgressSink) (any, error)) error {
	tl, err := logging.ForTaskWithFile(e.config.TaskLogDir, id, kind)
	if err != nil {
		log.Warn().Err(err).Str("task_id", id).Msg("Task log file unavailable, logging to the main log only")
		tl = logging.ForTask(id, kind)
	}
	defer tl.Close()

	ctx = tl.WithContext(ctx)
	started := time.Now()
	tl.Info().Msg("Task started")

	if err := tasks.Execute(ctx, e.store, id, fn); err != nil {
		reportFailure(id, kind, err)
		return river.JobCancel(err)
	}

	tl.Info().Dur("duration", time.Since(started)).Msg("Task finished")
	return nil
}

func reportFailure(id string, kind models.TaskKind, err error) {
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("task_id", id)
		scope.SetTag("task", string(kind))
		hub.CaptureException(fmt.Errorf("%s task %s failed: %w", kind, id, err))
	})
}

// FetchMessagesWorker handles message export jobs
type FetchMessagesWorker struct {
	river.WorkerDefaults[FetchMessagesArgs]
	env *taskEnv
}

func (w *FetchMessagesWorker) Timeout(*river.Job[FetchMessagesArgs]) time.Duration {
	return w.env.config.JobTimeout
}

func (w *FetchMessagesWorker) Work(ctx context.Context, job *river.Job[FetchMessagesArgs]) error {
	args := job.Args
	return w.env.run(ctx, args.TaskID, models.KindFetchMessages, func(ctx context.Context, sink tasks.ProgressSink) (any, error) {
		start, end, err := chunker.ParseRange(args.StartDate, args.EndDate)
		if err != nil {
			return nil, err
		}
		return w.env.runner.RunFetch(ctx, args.ChannelID, start, end, sink)
	})
}

// TopRepliersWorker handles top-repliers jobs
type TopRepliersWorker struct {
	river.WorkerDefaults[TopRepliersArgs]
	env *taskEnv
}

func (w *TopRepliersWorker) Timeout(*river.Job[TopRepliersArgs]) time.Duration {
	return w.env.config.JobTimeout
}

func (w *TopRepliersWorker) Work(ctx context.Context, job *river.Job[TopRepliersArgs]) error {
	args := job.Args
	return w.env.run(ctx, args.TaskID, models.KindTopRepliers, func(ctx context.Context, sink tasks.ProgressSink) (any, error) {
		start, end, err := chunker.ParseRange(args.StartDate, args.EndDate)
		if err != nil {
			return nil, err
		}
		return w.env.runner.RunAggregate(ctx, args.ChannelID, start, end, args.TopN, sink)
	})
}

// SummarizeThreadWorker handles thread summary jobs
type SummarizeThreadWorker struct {
	river.WorkerDefaults[SummarizeThreadArgs]
	env *taskEnv
}

func (w *SummarizeThreadWorker) Timeout(*river.Job[SummarizeThreadArgs]) time.Duration {
	return w.env.config.JobTimeout
}

func (w *SummarizeThreadWorker) Work(ctx context.Context, job *river.Job[SummarizeThreadArgs]) error {
	args := job.Args
	return w.env.run(ctx, args.TaskID, models.KindSummarizeThread, func(ctx context.Context, _ tasks.ProgressSink) (any, error) {
		return w.env.runner.RunSummary(ctx, args.ChannelID, args.ThreadTS, args.Provider)
	})
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	store  taskstore.Store
	config *QueueConfig

	// insert puts one job on the queue; client.Insert outside of tests
	insert func(ctx context.Context, args river.JobArgs) error
}

// NewJobQueue creates a job queue on pool. With a nil runner the queue can
// only insert jobs, which is what an API server without workers needs.
func NewJobQueue(pool *pgxpool.Pool, store taskstore.Store, runner *tasks.Runner, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	riverConfig := &river.Config{}
	if runner != nil {
		env := &taskEnv{runner: runner, store: store, config: config}

		workers := river.NewWorkers()
		river.AddWorker(workers, &FetchMessagesWorker{env: env})
		river.AddWorker(workers, &TopRepliersWorker{env: env})
		river.AddWorker(workers, &SummarizeThreadWorker{env: env})

		riverConfig.Queues = config.RiverQueueConfig()
		riverConfig.Workers = workers
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		store:  store,
		config: config,
		insert: func(ctx context.Context, args river.JobArgs) error {
			_, err := client.Insert(ctx, args, nil)
			return err
		},
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers, letting running tasks finish
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// enqueue creates the task record and inserts its job. A task whose job
// could not be inserted is marked FAILURE so it never stays PENDING.
func (jq *JobQueue) enqueue(ctx context.Context, kind models.TaskKind, build func(taskID string) river.JobArgs) (string, error) {
	id, err := jq.store.Create(ctx, kind)
	if err != nil {
		return "", err
	}

	if err := jq.insert(ctx, build(id)); err != nil {
		if ferr := jq.store.Fail(context.WithoutCancel(ctx), id, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("task_id", id).Msg("Failed to record enqueue failure")
		}
		return "", fmt.Errorf("failed to queue %s job: %w", kind, err)
	}

	log.Info().Str("task_id", id).Str("task", string(kind)).Msg("Task queued")
	return id, nil
}

// EnqueueFetchMessages queues a message export of channel over [start, end]
func (jq *JobQueue) EnqueueFetchMessages(ctx context.Context, channel, start, end string) (string, error) {
	return jq.enqueue(ctx, models.KindFetchMessages, func(id string) river.JobArgs {
		return FetchMessagesArgs{TaskID: id, ChannelID: channel, StartDate: start, EndDate: end}
	})
}

// EnqueueTopRepliers queues a top-repliers report
func (jq *JobQueue) EnqueueTopRepliers(ctx context.Context, channel, start, end string, topN int) (string, error) {
	return jq.enqueue(ctx, models.KindTopRepliers, func(id string) river.JobArgs {
		return TopRepliersArgs{TaskID: id, ChannelID: channel, StartDate: start, EndDate: end, TopN: topN}
	})
}

// EnqueueSummarizeThread queues a thread summary with the given LLM provider
func (jq *JobQueue) EnqueueSummarizeThread(ctx context.Context, channel, threadTS, provider string) (string, error) {
	return jq.enqueue(ctx, models.KindSummarizeThread, func(id string) river.JobArgs {
		return SummarizeThreadArgs{TaskID: id, ChannelID: channel, ThreadTS: threadTS, Provider: provider}
	})
}
