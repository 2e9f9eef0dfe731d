// Package tasks runs the fetch, top-repliers and thread summary tasks: it walks
// the chunks of a date range in order, publishes a checkpoint after each chunk
// and produces the terminal result.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/slackreports/internal/aggregate"
	"github.com/slackreports/internal/chunker"
	"github.com/slackreports/internal/retry"
	"github.com/slackreports/internal/slack"
	"github.com/slackreports/pkg/models"
)

// unknownProfile stands in for an author whose profile could not be resolved
var unknownProfile = models.Profile{FullName: "unknown", DisplayName: "unknown", Email: ""}

// MessageFetcher fetches one chunk of channel history with threads assembled
type MessageFetcher interface {
	Fetch(ctx context.Context, channel string, chunk chunker.DateChunk) ([]models.Message, error)
}

// ThreadFetcher fetches a single thread
type ThreadFetcher interface {
	Thread(ctx context.Context, channel, threadTS string) (models.ThreadData, error)
}

// ProfileResolver maps an author id to display information
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, authorID string) (models.Profile, error)
}

// Summarizer turns a thread into a summary text using the named LLM provider
type Summarizer interface {
	Summarize(ctx context.Context, provider string, thread models.ThreadData) (string, error)
}

// Runner orchestrates the chunked tasks. Chunks are processed strictly in order.
type Runner struct {
	Fetcher    MessageFetcher
	Threads    ThreadFetcher
	Resolver   ProfileResolver
	Summarizer Summarizer

	ChunkDays     int
	ResolverRetry retry.RetryConfig
}

// NewRunner creates a runner with the default chunk width and resolver retry policy
func NewRunner(fetcher MessageFetcher, threads ThreadFetcher, resolver ProfileResolver, summarizer Summarizer) *Runner {
	return &Runner{
		Fetcher:       fetcher,
		Threads:       threads,
		Resolver:      resolver,
		Summarizer:    summarizer,
		ChunkDays:     chunker.DefaultChunkDays,
		ResolverRetry: retry.RateLimitConfig(slack.IsRateLimited),
	}
}

// forEachChunk fetches every chunk of the range in order, skipping messages already
// seen at a shared chunk boundary, and publishes a checkpoint after each one.
func (r *Runner) forEachChunk(ctx context.Context, channel string, start, end time.Time, sink ProgressSink, fn func([]models.Message)) error {
	if sink == nil {
		sink = Discard
	}
	logger := zerolog.Ctx(ctx)

	chunks := chunker.Split(start, end, r.ChunkDays)
	seen := make(map[string]struct{})

	for i, chunk := range chunks {
		// Cancellation is only observed between chunks and inside upstream calls.
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.Info().
			Str("channel", channel).
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Stringer("range", chunk).
			Msg("Fetching chunk")

		messages, err := r.Fetcher.Fetch(ctx, channel, chunk)
		if err != nil {
			return err
		}

		fresh := make([]models.Message, 0, len(messages))
		for _, m := range messages {
			if _, dup := seen[m.PostID]; dup {
				continue
			}
			seen[m.PostID] = struct{}{}
			fresh = append(fresh, m)
		}
		fn(fresh)

		p := models.Progress{Current: chunk.End, Chunk: i + 1, Chunks: len(chunks)}
		if err := sink.Progress(ctx, p); err != nil {
			logger.Warn().Err(err).Int("chunk", i+1).Msg("Failed to publish progress")
		}
	}
	return nil
}

// RunFetch returns every message of the range, chunk order and in-chunk order preserved
func (r *Runner) RunFetch(ctx context.Context, channel string, start, end time.Time, sink ProgressSink) ([]models.Message, error) {
	messages := []models.Message{}
	err := r.forEachChunk(ctx, channel, start, end, sink, func(chunk []models.Message) {
		messages = append(messages, chunk...)
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// RunAggregate folds every chunk into one running ReplierStat mapping, ranks once
// and resolves profiles for the final top-N authors only.
func (r *Runner) RunAggregate(ctx context.Context, channel string, start, end time.Time, topN int, sink ProgressSink) ([]models.TopReplier, error) {
	stats := aggregate.NewStats()
	err := r.forEachChunk(ctx, channel, start, end, sink, func(chunk []models.Message) {
		stats.Fold(chunk)
	})
	if err != nil {
		return nil, err
	}

	ranked := stats.Rank(topN)
	out := make([]models.TopReplier, 0, len(ranked))
	for _, rr := range ranked {
		profile, err := r.resolve(ctx, rr.AuthorID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.TopReplier{
			ID:          rr.AuthorID,
			Profile:     profile,
			Discussions: rr.Stat.Discussions,
			Responses:   rr.Stat.Responses,
		})
	}
	return out, nil
}

// resolve substitutes a placeholder when the lookup fails. Only cancellation is fatal.
func (r *Runner) resolve(ctx context.Context, authorID string) (models.Profile, error) {
	if r.Resolver == nil {
		return unknownProfile, nil
	}

	var profile models.Profile
	err := retry.Do(ctx, r.ResolverRetry, func() error {
		var err error
		profile, err = r.Resolver.ResolveProfile(ctx, authorID)
		return err
	}, zerolog.Ctx(ctx))
	if err == nil {
		return profile, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.Profile{}, err
	}

	zerolog.Ctx(ctx).Warn().Err(err).Str("author", authorID).Msg("Profile lookup failed, using placeholder")
	return unknownProfile, nil
}

// RunSummary fetches a thread and summarizes it with the given LLM provider
func (r *Runner) RunSummary(ctx context.Context, channel, threadTS, provider string) (models.SummaryResult, error) {
	if r.Summarizer == nil {
		return models.SummaryResult{}, errors.New("no summarizer configured")
	}

	thread, err := r.Threads.Thread(ctx, channel, threadTS)
	if err != nil {
		return models.SummaryResult{}, err
	}

	summary, err := r.Summarizer.Summarize(ctx, provider, thread)
	if err != nil {
		return models.SummaryResult{}, fmt.Errorf("failed to summarize thread %s: %w", threadTS, err)
	}

	return models.SummaryResult{Summary: summary, ThreadData: thread}, nil
}
