package fetcher

import (
	"context"

	"github.com/slackreports/internal/retry"
	"github.com/slackreports/internal/slack"
	"github.com/slackreports/pkg/models"
)

// threadNotFound mirrors the upstream error code for an unknown thread
const threadNotFound = "thread_not_found"

// ResolveReplies fetches the replies of parentTS in arrival order, excluding the parent itself.
// Failures propagate; a partially assembled thread is never returned.
func (f *Fetcher) ResolveReplies(ctx context.Context, channel, parentTS string) ([]models.Reply, error) {
	posts, err := f.listReplies(ctx, channel, parentTS)
	if err != nil {
		f.loggerFor(ctx).Error().Err(err).
			Str("channel", channel).
			Str("parent_ts", parentTS).
			Msg("Error fetching replies")
		return nil, err
	}

	replies := make([]models.Reply, 0, len(posts))
	for _, post := range posts {
		if post.TS == parentTS {
			continue
		}
		replies = append(replies, f.toReply(channel, post))
	}
	return replies, nil
}

// Thread fetches a complete thread: the parent message and all of its replies.
// Replies are listed once, beside the parent rather than inside it.
func (f *Fetcher) Thread(ctx context.Context, channel, threadTS string) (models.ThreadData, error) {
	posts, err := f.listReplies(ctx, channel, threadTS)
	if err != nil {
		return models.ThreadData{}, err
	}
	if len(posts) == 0 {
		return models.ThreadData{}, &slack.UpstreamError{Method: "conversations.replies", Code: threadNotFound}
	}

	main := f.toMessage(channel, posts[0])
	replies := make([]models.Reply, 0, len(posts)-1)
	for _, post := range posts[1:] {
		replies = append(replies, f.toReply(channel, post))
	}

	return models.ThreadData{
		MainMessage:   main,
		Replies:       replies,
		TotalMessages: len(posts),
	}, nil
}

func (f *Fetcher) listReplies(ctx context.Context, channel, ts string) ([]slack.Post, error) {
	var posts []slack.Post
	err := retry.Do(ctx, f.retry, func() error {
		var err error
		posts, err = f.upstream.ListReplies(ctx, channel, ts)
		return err
	}, f.loggerFor(ctx))
	return posts, err
}
