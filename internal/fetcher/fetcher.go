// Package fetcher pages through channel history for one chunk of a date range
// and assembles the reply thread of every message that has one.
package fetcher

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/slackreports/internal/chunker"
	"github.com/slackreports/internal/retry"
	"github.com/slackreports/internal/slack"
	"github.com/slackreports/pkg/models"
)

// DefaultPageSize is the history page size requested from upstream
const DefaultPageSize = 100

// Upstream is the subset of the chat API the fetcher needs
type Upstream interface {
	ListMessages(ctx context.Context, req slack.HistoryRequest) (slack.HistoryPage, error)
	ListReplies(ctx context.Context, channel, parentTS string) ([]slack.Post, error)
}

// FetchError is a non-recoverable failure while fetching a chunk
type FetchError struct {
	Channel string
	Chunk   chunker.DateChunk
	Err     error
}

func (e *FetchError) Error() string {
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves messages and their replies
type Fetcher struct {
	upstream Upstream
	home     string
	pageSize int
	retry    retry.RetryConfig
	logger   zerolog.Logger
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithPageSize overrides DefaultPageSize
func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithRetry overrides the rate-limit retry policy
func WithRetry(config retry.RetryConfig) Option {
	return func(f *Fetcher) {
		f.retry = config
	}
}

// WithLogger sets the logger used when the context carries none
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher. home is the workspace base URL used for deep links.
func New(upstream Upstream, home string, opts ...Option) *Fetcher {
	f := &Fetcher{
		upstream: upstream,
		home:     home,
		pageSize: DefaultPageSize,
		retry:    retry.RateLimitConfig(slack.IsRateLimited),
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns every message of channel posted within chunk, each with its
// replies resolved. Any failure aborts the whole chunk; no partial list is returned.
func (f *Fetcher) Fetch(ctx context.Context, channel string, chunk chunker.DateChunk) ([]models.Message, error) {
	req := slack.HistoryRequest{
		Channel: channel,
		Oldest:  strconv.FormatInt(chunk.Start.Unix(), 10),
		Latest:  latestBound(chunk.End),
		Limit:   f.pageSize,
	}

	logger := f.loggerFor(ctx)

	var messages []models.Message
	for pageNum := 1; ; pageNum++ {
		var page slack.HistoryPage
		err := retry.Do(ctx, f.retry, func() error {
			var err error
			page, err = f.upstream.ListMessages(ctx, req)
			return err
		}, logger)
		if err != nil {
			logger.Error().Err(err).
				Str("channel", channel).
				Int("page", pageNum).
				Msg("Error paginating messages")
			return nil, &FetchError{Channel: channel, Chunk: chunk, Err: err}
		}

		for _, post := range page.Messages {
			msg := f.toMessage(channel, post)
			if post.ReplyCount > 0 {
				replies, err := f.ResolveReplies(ctx, channel, post.TS)
				if err != nil {
					return nil, &FetchError{Channel: channel, Chunk: chunk, Err: err}
				}
				msg.Replies = replies
			}
			messages = append(messages, msg)
		}

		if page.NextCursor == "" {
			break
		}
		req.Cursor = page.NextCursor
	}

	logger.Debug().
		Str("channel", channel).
		Stringer("chunk", chunk).
		Int("messages", len(messages)).
		Msg("Chunk fetched")

	return messages, nil
}

// latestBound renders the inclusive upper bound of a history request. An end on
// the last second of a day covers that whole second, sub-second post ids included.
func latestBound(end time.Time) string {
	secs := strconv.FormatInt(end.Unix(), 10)
	if next := end.Add(time.Second); next.Hour() == 0 && next.Minute() == 0 && next.Second() == 0 {
		return secs + ".999999"
	}
	return secs
}

// loggerFor prefers the task logger attached to ctx
func (f *Fetcher) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &f.logger
}

func (f *Fetcher) toMessage(channel string, post slack.Post) models.Message {
	msg := models.Message{
		Author:     post.User,
		Text:       post.Text,
		PostID:     post.TS,
		URL:        models.PostURL(f.home, channel, post.TS),
		Date:       models.PostDate(post.TS),
		Reactions:  post.Reactions,
		Replies:    []models.Reply{},
		ReplyCount: post.ReplyCount,
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string]int{}
	}
	if post.Subtype != "" {
		subtype := post.Subtype
		msg.Subtype = &subtype
	}
	return msg
}

func (f *Fetcher) toReply(channel string, post slack.Post) models.Reply {
	return models.Reply{
		Author: post.User,
		Text:   post.Text,
		PostID: post.TS,
		URL:    models.PostURL(f.home, channel, post.TS),
		Date:   models.PostDate(post.TS),
	}
}
