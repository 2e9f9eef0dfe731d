package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slackreports/internal/slack"
)

func TestResolveReplies_ExcludesParent(t *testing.T) {
	up := twoPageUpstream()
	f := New(up, "https://acme.slack.com", WithRetry(fastRetry()))

	replies, err := f.ResolveReplies(context.Background(), "C1", "1704067300.000100")
	require.NoError(t, err)
	require.Len(t, replies, 2)
	for _, r := range replies {
		assert.NotEqual(t, "1704067300.000100", r.PostID)
	}
	assert.Equal(t, "r1", replies[0].Text)
	assert.Equal(t, "r2", replies[1].Text)
}

func TestResolveReplies_PropagatesUpstreamError(t *testing.T) {
	up := twoPageUpstream()
	permanent := &slack.UpstreamError{Method: "conversations.replies", Code: "missing_scope"}
	up.replyErrs["1704067300.000100"] = []error{permanent}

	_, err := New(up, "", WithRetry(fastRetry())).ResolveReplies(context.Background(), "C1", "1704067300.000100")
	require.Error(t, err)
	assert.True(t, errors.Is(err, permanent))
	assert.Len(t, up.replyCalls, 1)
}

func TestThread(t *testing.T) {
	up := twoPageUpstream()
	f := New(up, "https://acme.slack.com", WithRetry(fastRetry()))

	thread, err := f.Thread(context.Background(), "C1", "1704067300.000100")
	require.NoError(t, err)
	assert.Equal(t, 3, thread.TotalMessages)
	assert.Equal(t, "first", thread.MainMessage.Text)
	assert.Len(t, thread.Replies, 2)
	assert.Empty(t, thread.MainMessage.Replies)
	assert.Equal(t, "r1", thread.Replies[0].Text)
}

func TestThread_NotFound(t *testing.T) {
	up := twoPageUpstream()
	_, err := New(up, "", WithRetry(fastRetry())).Thread(context.Background(), "C1", "1.000001")

	var upstream *slack.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "thread_not_found", upstream.Code)
}
