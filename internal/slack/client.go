// Package slack is the upstream chat-platform client: channel history, thread
// replies and user profiles, with failures classified as rate limits or not.
package slack

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/slackreports/pkg/models"
)

const (
	methodHistory  = "conversations.history"
	methodReplies  = "conversations.replies"
	methodUserInfo = "users.info"

	defaultRequestsPerMinute = 50
	defaultTimeout           = 30 * time.Second
)

// Post is a raw message as returned by history or replies
type Post struct {
	User       string
	Text       string
	TS         string
	Subtype    string
	ReplyCount int
	Reactions  map[string]int
}

// HistoryRequest selects one page of channel history
type HistoryRequest struct {
	Channel string
	Oldest  string
	Latest  string
	Cursor  string
	Limit   int
}

// HistoryPage is one page of channel history
type HistoryPage struct {
	Messages   []Post
	NextCursor string
}

// Config holds the client settings; there is no process-wide client
type Config struct {
	Token             string
	APIURL            string // optional, must end with "/"
	RequestsPerMinute int    // pacing across all calls of this client; <0 disables it
	HTTPClient        *http.Client
}

// Client talks to the Slack Web API
type Client struct {
	api     *slack.Client
	limiter *rate.Limiter
}

// New creates a client from config
func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	opts := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if config.APIURL != "" {
		apiURL := config.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}

	rpm := config.RequestsPerMinute
	if rpm == 0 {
		rpm = defaultRequestsPerMinute
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}

	return &Client{
		api:     slack.New(config.Token, opts...),
		limiter: limiter,
	}
}

// ListMessages fetches one page of top-level channel history
func (c *Client) ListMessages(ctx context.Context, req HistoryRequest) (HistoryPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return HistoryPage{}, err
	}

	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: req.Channel,
		Oldest:    req.Oldest,
		Latest:    req.Latest,
		Cursor:    req.Cursor,
		Limit:     req.Limit,
		Inclusive: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return HistoryPage{}, ctx.Err()
		}
		return HistoryPage{}, classify(methodHistory, err)
	}

	page := HistoryPage{
		Messages:   make([]Post, 0, len(resp.Messages)),
		NextCursor: resp.ResponseMetaData.NextCursor,
	}
	for _, m := range resp.Messages {
		page.Messages = append(page.Messages, toPost(m))
	}

	log.Debug().
		Str("channel", req.Channel).
		Int("messages", len(page.Messages)).
		Bool("has_next", page.NextCursor != "").
		Msg("Fetched history page")

	return page, nil
}

// ListReplies fetches a thread. The parent is the first element.
func (c *Client) ListReplies(ctx context.Context, channel, parentTS string) ([]Post, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	msgs, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: parentTS,
		Inclusive: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(methodReplies, err)
	}

	posts := make([]Post, 0, len(msgs))
	for _, m := range msgs {
		posts = append(posts, toPost(m))
	}
	return posts, nil
}

// ResolveProfile looks up the display information of a user
func (c *Client) ResolveProfile(ctx context.Context, userID string) (models.Profile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Profile{}, err
	}

	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return models.Profile{}, ctx.Err()
		}
		return models.Profile{}, classify(methodUserInfo, err)
	}

	fullName := user.RealName
	if fullName == "" {
		fullName = user.Profile.RealName
	}
	return models.Profile{
		FullName:    fullName,
		DisplayName: user.Profile.DisplayName,
		Email:       user.Profile.Email,
	}, nil
}

func toPost(m slack.Message) Post {
	p := Post{
		User:       m.User,
		Text:       m.Text,
		TS:         m.Timestamp,
		Subtype:    m.SubType,
		ReplyCount: m.ReplyCount,
	}
	if len(m.Reactions) > 0 {
		p.Reactions = make(map[string]int, len(m.Reactions))
		for _, r := range m.Reactions {
			p.Reactions[r.Name] = r.Count
		}
	}
	return p
}
