package jobqueue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slackreports/internal/chunker"
	"github.com/slackreports/internal/config"
	"github.com/slackreports/internal/taskstore"
	"github.com/slackreports/internal/tasks"
	"github.com/slackreports/pkg/models"
)

type stubFetcher struct {
	messages []models.Message
	err      error
}

func (s stubFetcher) Fetch(_ context.Context, _ string, chunk chunker.DateChunk) ([]models.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Message
	for _, m := range s.messages {
		ts, err := models.PostTime(m.PostID)
		if err != nil {
			return nil, err
		}
		if !ts.Before(chunk.Start) && !ts.After(chunk.End) {
			out = append(out, m)
		}
	}
	return out, nil
}

type stubThreads struct{}

func (stubThreads) Thread(_ context.Context, _, threadTS string) (models.ThreadData, error) {
	return models.ThreadData{MainMessage: models.Message{PostID: threadTS}, TotalMessages: 1}, nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, provider string, _ models.ThreadData) (string, error) {
	return "summary via " + provider, nil
}

type stubResolver struct{}

func (stubResolver) ResolveProfile(_ context.Context, id string) (models.Profile, error) {
	return models.Profile{FullName: "Name " + id}, nil
}

// 2024-01-02 and 2024-01-09
var sampleMessages = []models.Message{
	{Author: "U1", PostID: "1704182400.000100", Replies: []models.Reply{{Author: "U2"}, {Author: "U2"}}},
	{Author: "U1", PostID: "1704787200.000100", Replies: []models.Reply{{Author: "U3"}}},
}

func newEnv(t *testing.T, fetcher tasks.MessageFetcher) (*taskEnv, *taskstore.Memory) {
	t.Helper()
	store := taskstore.NewMemory()
	runner := tasks.NewRunner(fetcher, stubThreads{}, stubResolver{}, stubSummarizer{})
	cfg := DefaultQueueConfig()
	cfg.TaskLogDir = t.TempDir()
	return &taskEnv{runner: runner, store: store, config: cfg}, store
}

func TestFetchMessagesWorker(t *testing.T) {
	env, store := newEnv(t, stubFetcher{messages: sampleMessages})
	ctx := context.Background()
	id, err := store.Create(ctx, models.KindFetchMessages)
	require.NoError(t, err)

	w := &FetchMessagesWorker{env: env}
	err = w.Work(ctx, &river.Job[FetchMessagesArgs]{Args: FetchMessagesArgs{
		TaskID: id, ChannelID: "C1", StartDate: "2024-01-01", EndDate: "2024-01-10",
	}})
	require.NoError(t, err)

	status, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskSuccess, status.State)
	messages, ok := status.Result.([]models.Message)
	require.True(t, ok)
	assert.Len(t, messages, 2)
	require.NotNil(t, status.Progress)
	assert.Equal(t, 2, status.Progress.Chunk)
	assert.Equal(t, 2, status.Progress.Chunks)

	entries, err := os.ReadDir(env.config.TaskLogDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTopRepliersWorker(t *testing.T) {
	env, store := newEnv(t, stubFetcher{messages: sampleMessages})
	ctx := context.Background()
	id, err := store.Create(ctx, models.KindTopRepliers)
	require.NoError(t, err)

	w := &TopRepliersWorker{env: env}
	err = w.Work(ctx, &river.Job[TopRepliersArgs]{Args: TopRepliersArgs{
		TaskID: id, ChannelID: "C1", StartDate: "2024-01-01", EndDate: "2024-01-10", TopN: 1,
	}})
	require.NoError(t, err)

	status, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []models.TopReplier{{
		ID:          "U2",
		Profile:     models.Profile{FullName: "Name U2"},
		Discussions: 1,
		Responses:   2,
	}}, status.Result)
}

func TestSummarizeThreadWorker(t *testing.T) {
	env, store := newEnv(t, stubFetcher{})
	ctx := context.Background()
	id, err := store.Create(ctx, models.KindSummarizeThread)
	require.NoError(t, err)

	w := &SummarizeThreadWorker{env: env}
	err = w.Work(ctx, &river.Job[SummarizeThreadArgs]{Args: SummarizeThreadArgs{
		TaskID: id, ChannelID: "C1", ThreadTS: "1704182400.000100", Provider: "ollama",
	}})
	require.NoError(t, err)

	status, err := store.Get(ctx, id)
	require.NoError(t, err)
	result, ok := status.Result.(models.SummaryResult)
	require.True(t, ok)
	assert.Equal(t, "summary via ollama", result.Summary)
	assert.Equal(t, "1704182400.000100", result.ThreadData.MainMessage.PostID)
}

func TestWorkerFailureIsRecordedAndCancelsJob(t *testing.T) {
	upstream := errors.New("conversations.history: channel_not_found")
	env, store := newEnv(t, stubFetcher{err: upstream})
	ctx := context.Background()
	id, err := store.Create(ctx, models.KindFetchMessages)
	require.NoError(t, err)

	w := &FetchMessagesWorker{env: env}
	err = w.Work(ctx, &river.Job[FetchMessagesArgs]{Args: FetchMessagesArgs{
		TaskID: id, ChannelID: "C1", StartDate: "2024-01-01", EndDate: "2024-01-10",
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream)

	status, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, status.State)
	assert.Equal(t, "conversations.history: channel_not_found", status.Error)
	assert.Nil(t, status.Result)
}

func TestWorkerBadDatesFailTask(t *testing.T) {
	env, store := newEnv(t, stubFetcher{})
	ctx := context.Background()
	id, err := store.Create(ctx, models.KindTopRepliers)
	require.NoError(t, err)

	w := &TopRepliersWorker{env: env}
	err = w.Work(ctx, &river.Job[TopRepliersArgs]{Args: TopRepliersArgs{
		TaskID: id, ChannelID: "C1", StartDate: "2024-02-30", EndDate: "2024-03-01",
	}})
	require.Error(t, err)

	status, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, status.State)
}

func TestEnqueueQueuesJobForNewTask(t *testing.T) {
	store := taskstore.NewMemory()
	var queued []river.JobArgs
	jq := &JobQueue{store: store, config: DefaultQueueConfig(), insert: func(_ context.Context, args river.JobArgs) error {
		queued = append(queued, args)
		return nil
	}}

	id, err := jq.EnqueueTopRepliers(context.Background(), "C1", "2024-01-01", "2024-01-10", 5)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, TopRepliersArgs{TaskID: id, ChannelID: "C1", StartDate: "2024-01-01", EndDate: "2024-01-10", TopN: 5}, queued[0])

	status, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, status.State)
	assert.Equal(t, models.KindTopRepliers, status.Kind)
}

func TestEnqueueInsertFailureMarksTaskFailed(t *testing.T) {
	store := taskstore.NewMemory()
	var taskID string
	jq := &JobQueue{store: store, config: DefaultQueueConfig(), insert: func(_ context.Context, args river.JobArgs) error {
		taskID = args.(SummarizeThreadArgs).TaskID
		return errors.New("connection refused")
	}}

	id, err := jq.EnqueueSummarizeThread(context.Background(), "C1", "1704182400.000100", "openai")
	require.Error(t, err)
	assert.Empty(t, id)
	assert.Contains(t, err.Error(), "connection refused")

	require.NotEmpty(t, taskID)
	status, err := store.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, status.State)
	assert.Equal(t, "connection refused", status.Error)
}

func TestJobArgs(t *testing.T) {
	assert.Equal(t, "fetch_messages", FetchMessagesArgs{}.Kind())
	assert.Equal(t, "top_repliers", TopRepliersArgs{}.Kind())
	assert.Equal(t, "summarize_thread", SummarizeThreadArgs{}.Kind())
	assert.Equal(t, 1, FetchMessagesArgs{}.InsertOpts().MaxAttempts)
	assert.Equal(t, 1, SummarizeThreadArgs{}.InsertOpts().MaxAttempts)
}

func TestQueueConfigFrom(t *testing.T) {
	var cfg config.Config
	qc := QueueConfigFrom(&cfg)
	assert.Equal(t, 10, qc.MaxWorkers)
	assert.Equal(t, 30*time.Minute, qc.JobTimeout)

	cfg.Queue.MaxWorkers = 4
	cfg.Queue.JobTimeout = time.Minute
	cfg.Log.TaskDir = "/tmp/tasks"
	qc = QueueConfigFrom(&cfg)
	assert.Equal(t, 4, qc.MaxWorkers)
	assert.Equal(t, time.Minute, qc.JobTimeout)
	assert.Equal(t, "/tmp/tasks", qc.TaskLogDir)
	assert.Equal(t, 4, qc.RiverQueueConfig()[river.QueueDefault].MaxWorkers)

	w := &FetchMessagesWorker{env: &taskEnv{config: qc}}
	assert.Equal(t, time.Minute, w.Timeout(nil))
}
