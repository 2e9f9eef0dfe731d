package fetcher

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slackreports/internal/chunker"
	"github.com/slackreports/internal/retry"
	"github.com/slackreports/internal/slack"
	"github.com/slackreports/pkg/models"
)

// fakeUpstream serves history pages keyed by cursor and threads keyed by parent ts.
// historyErrs / replyErrs are consumed one per call before a real answer is given.
type fakeUpstream struct {
	pages       map[string]slack.HistoryPage
	threads     map[string][]slack.Post
	historyErrs map[string][]error
	replyErrs   map[string][]error

	historyCalls []slack.HistoryRequest
	replyCalls   []string
}

func (u *fakeUpstream) ListMessages(_ context.Context, req slack.HistoryRequest) (slack.HistoryPage, error) {
	u.historyCalls = append(u.historyCalls, req)
	if errs := u.historyErrs[req.Cursor]; len(errs) > 0 {
		u.historyErrs[req.Cursor] = errs[1:]
		if errs[0] != nil {
			return slack.HistoryPage{}, errs[0]
		}
	}
	return u.pages[req.Cursor], nil
}

func (u *fakeUpstream) ListReplies(_ context.Context, _ string, parentTS string) ([]slack.Post, error) {
	u.replyCalls = append(u.replyCalls, parentTS)
	if errs := u.replyErrs[parentTS]; len(errs) > 0 {
		u.replyErrs[parentTS] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	return u.threads[parentTS], nil
}

func twoPageUpstream() *fakeUpstream {
	return &fakeUpstream{
		pages: map[string]slack.HistoryPage{
			"": {
				Messages: []slack.Post{
					{User: "U1", Text: "first", TS: "1704067300.000100", ReplyCount: 2, Reactions: map[string]int{"eyes": 2}},
					{User: "U2", Text: "second", TS: "1704067200.000200"},
				},
				NextCursor: "c2",
			},
			"c2": {
				Messages: []slack.Post{
					{User: "U3", Text: "third", TS: "1704067100.000300", Subtype: "thread_broadcast"},
				},
			},
		},
		threads: map[string][]slack.Post{
			"1704067300.000100": {
				{User: "U1", Text: "first", TS: "1704067300.000100"},
				{User: "U2", Text: "r1", TS: "1704067400.000100"},
				{User: "U3", Text: "r2", TS: "1704067500.000100"},
			},
		},
		historyErrs: map[string][]error{},
		replyErrs:   map[string][]error{},
	}
}

func testChunk() chunker.DateChunk {
	return chunker.DateChunk{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC),
	}
}

func fastRetry() retry.RetryConfig {
	return retry.RetryConfig{
		MaxElapsedTime: 50 * time.Millisecond,
		BaseDelay:      time.Millisecond,
		Multiplier:     2.0,
		Jitter:         retry.FullJitter,
		Retryable:      slack.IsRateLimited,
	}
}

func rateLimited() error {
	return &slack.RateLimitError{Method: "conversations.history"}
}

func TestFetch_PaginatesAndAssemblesThreads(t *testing.T) {
	up := twoPageUpstream()
	f := New(up, "https://acme.slack.com", WithRetry(fastRetry()))

	msgs, err := f.Fetch(context.Background(), "C1", testChunk())
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	require.Len(t, up.historyCalls, 2)
	assert.Equal(t, "1704067200", up.historyCalls[0].Oldest)
	assert.Equal(t, "1704671999.999999", up.historyCalls[0].Latest)
	assert.Equal(t, 100, up.historyCalls[0].Limit)
	assert.Equal(t, "c2", up.historyCalls[1].Cursor)

	// Only the message with replies triggers a thread lookup.
	assert.Equal(t, []string{"1704067300.000100"}, up.replyCalls)

	first := msgs[0]
	assert.Equal(t, "U1", first.Author)
	assert.Equal(t, "https://acme.slack.com/archives/C1/p1704067300.000100", first.URL)
	assert.Equal(t, "2024-01-01T00:01:40", first.Date)
	assert.Equal(t, map[string]int{"eyes": 2}, first.Reactions)
	assert.Nil(t, first.Subtype)

	wantReplies := []models.Reply{
		{Author: "U2", Text: "r1", PostID: "1704067400.000100", URL: "https://acme.slack.com/archives/C1/p1704067400.000100", Date: "2024-01-01T00:03:20"},
		{Author: "U3", Text: "r2", PostID: "1704067500.000100", URL: "https://acme.slack.com/archives/C1/p1704067500.000100", Date: "2024-01-01T00:05:00"},
	}
	if diff := cmp.Diff(wantReplies, first.Replies); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, msgs[1].Replies)
	assert.NotNil(t, msgs[1].Reactions)
	require.NotNil(t, msgs[2].Subtype)
	assert.Equal(t, "thread_broadcast", *msgs[2].Subtype)
}

func TestFetch_RateLimitIsTransparent(t *testing.T) {
	clean := twoPageUpstream()
	want, err := New(clean, "https://acme.slack.com", WithRetry(fastRetry())).Fetch(context.Background(), "C1", testChunk())
	require.NoError(t, err)

	flaky := twoPageUpstream()
	flaky.historyErrs["c2"] = []error{rateLimited(), rateLimited()}
	flaky.replyErrs["1704067300.000100"] = []error{&slack.RateLimitError{Method: "conversations.replies"}}

	got, err := New(flaky, "https://acme.slack.com", WithRetry(fastRetry())).Fetch(context.Background(), "C1", testChunk())
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("retry changed the result (-want +got):\n%s", diff)
	}
	assert.Len(t, flaky.historyCalls, 4)
	assert.Len(t, flaky.replyCalls, 2)
}

func TestFetch_RateLimitPastCeilingFails(t *testing.T) {
	up := twoPageUpstream()
	up.historyErrs[""] = make([]error, 10000)
	for i := range up.historyErrs[""] {
		up.historyErrs[""][i] = rateLimited()
	}

	msgs, err := New(up, "", WithRetry(fastRetry())).Fetch(context.Background(), "C1", testChunk())
	require.Error(t, err)
	assert.Nil(t, msgs)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.True(t, slack.IsRateLimited(err))
	assert.Greater(t, len(up.historyCalls), 1)
}

func TestFetch_UpstreamErrorOnSecondPageAborts(t *testing.T) {
	up := twoPageUpstream()
	up.historyErrs["c2"] = []error{&slack.UpstreamError{Method: "conversations.history", Code: "not_in_channel"}}

	msgs, err := New(up, "", WithRetry(fastRetry())).Fetch(context.Background(), "C1", testChunk())
	require.Error(t, err)
	assert.Nil(t, msgs, "page 1 must not leak as a partial result")
	assert.Equal(t, "conversations.history: not_in_channel", err.Error())

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, "C1", fetchErr.Channel)

	// No retry for a non rate-limit failure.
	assert.Len(t, up.historyCalls, 2)
}

func TestFetch_ReplyFailureIsFatal(t *testing.T) {
	up := twoPageUpstream()
	up.replyErrs["1704067300.000100"] = []error{&slack.UpstreamError{Method: "conversations.replies", Code: "thread_not_found"}}

	msgs, err := New(up, "", WithRetry(fastRetry())).Fetch(context.Background(), "C1", testChunk())
	require.Error(t, err)
	assert.Nil(t, msgs)

	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
	assert.Len(t, up.historyCalls, 1, "pagination stops at the failed thread")
}

func TestFetch_PageSizeOption(t *testing.T) {
	up := twoPageUpstream()
	_, err := New(up, "", WithPageSize(20), WithRetry(fastRetry())).Fetch(context.Background(), "C1", testChunk())
	require.NoError(t, err)
	assert.Equal(t, 20, up.historyCalls[0].Limit)
}

// windowUpstream answers history requests like the real API: only posts with
// oldest <= ts <= latest are returned.
type windowUpstream struct {
	posts []slack.Post
}

func (u *windowUpstream) ListMessages(_ context.Context, req slack.HistoryRequest) (slack.HistoryPage, error) {
	oldest, err := strconv.ParseFloat(req.Oldest, 64)
	if err != nil {
		return slack.HistoryPage{}, err
	}
	latest, err := strconv.ParseFloat(req.Latest, 64)
	if err != nil {
		return slack.HistoryPage{}, err
	}
	var page slack.HistoryPage
	for _, p := range u.posts {
		ts, err := strconv.ParseFloat(p.TS, 64)
		if err != nil {
			return slack.HistoryPage{}, err
		}
		if ts >= oldest && ts <= latest {
			page.Messages = append(page.Messages, p)
		}
	}
	return page, nil
}

func (u *windowUpstream) ListReplies(context.Context, string, string) ([]slack.Post, error) {
	return nil, nil
}

func TestFetch_LastSecondOfRangeIncluded(t *testing.T) {
	up := &windowUpstream{posts: []slack.Post{
		{User: "U1", Text: "late", TS: "1704671999.734512"},
		{User: "U2", Text: "next day", TS: "1704672000.000100"},
	}}

	msgs, err := New(up, "", WithRetry(fastRetry())).Fetch(context.Background(), "C1", testChunk())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "late", msgs[0].Text)
}

func TestLatestBound(t *testing.T) {
	assert.Equal(t, "1704671999.999999", latestBound(time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC)))
	// Interior chunk ends are the next chunk's midnight start.
	assert.Equal(t, "1704672000", latestBound(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)))
}
