package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is a top-level channel post together with its thread replies
type Message struct {
	Author    string         `json:"author"`
	Text      string         `json:"message"`
	PostID    string         `json:"post_id"`
	URL       string         `json:"url"`
	Date      string         `json:"date"`
	Reactions map[string]int `json:"reactions"`
	Replies   []Reply        `json:"replies"`
	Subtype   *string        `json:"subtype"`

	// ReplyCount is the upstream reply counter; only used to decide whether
	// the thread has to be assembled.
	ReplyCount int `json:"-"`
}

// Reply is a single thread reply, in arrival order within its parent
type Reply struct {
	Author string `json:"author"`
	Text   string `json:"message"`
	PostID string `json:"post_id"`
	URL    string `json:"url"`
	Date   string `json:"date"`
}

// ReplierStat holds the reply counters of one author
type ReplierStat struct {
	Discussions int `json:"discussions"` // distinct parent messages replied to
	Responses   int `json:"responses"`   // total replies
}

// RankedReplier pairs an author with their final counters
type RankedReplier struct {
	AuthorID string
	Stat     ReplierStat
}

// Profile is the display information resolved for an author
type Profile struct {
	FullName    string `json:"fullname"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// TopReplier is one row of the top-repliers report
type TopReplier struct {
	ID          string  `json:"id_replier"`
	Profile     Profile `json:"full_name_replier"`
	Discussions int     `json:"discussions"`
	Responses   int     `json:"responses"`
}

// ThreadData is a parent message with all of its replies
type ThreadData struct {
	MainMessage   Message `json:"main_message"`
	Replies       []Reply `json:"replies"`
	TotalMessages int     `json:"total_messages"`
}

// SummaryResult is the terminal payload of a thread summary task
type SummaryResult struct {
	Summary    string     `json:"summary"`
	ThreadData ThreadData `json:"thread_data"`
}

// TaskState is the lifecycle state of a background task
type TaskState string

const (
	TaskPending  TaskState = "PENDING"
	TaskProgress TaskState = "PROGRESS"
	TaskSuccess  TaskState = "SUCCESS"
	TaskFailure  TaskState = "FAILURE"
)

// Terminal reports whether no further transitions are possible
func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

// TaskKind names the three task flavours
type TaskKind string

const (
	KindFetchMessages   TaskKind = "fetch_messages"
	KindTopRepliers     TaskKind = "top_repliers"
	KindSummarizeThread TaskKind = "summarize_thread"
)

// Progress is the checkpoint published after each completed chunk
type Progress struct {
	Current time.Time `json:"current"`
	Chunk   int       `json:"chunk"`
	Chunks  int       `json:"chunks"`
}

// TaskStatus is the externally visible state of a task
type TaskStatus struct {
	ID        string    `json:"task_id"`
	Kind      TaskKind  `json:"task_name"`
	State     TaskState `json:"status"`
	Progress  *Progress `json:"progress,omitempty"`
	Result    any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostTime parses the integer seconds of a post id such as "1712345678.123456"
func PostTime(postID string) (time.Time, error) {
	secs, _, _ := strings.Cut(postID, ".")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid post id %q: %w", postID, err)
	}
	return time.Unix(n, 0).UTC(), nil
}

// PostDate renders the timestamp of a post id as ISO-8601, or "" when unparseable
func PostDate(postID string) string {
	t, err := PostTime(postID)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02T15:04:05")
}

// PostURL builds the stable deep link of a post from its first 10 and last 6 characters
func PostURL(home, channel, postID string) string {
	head, tail := postID, postID
	if len(postID) >= 10 {
		head = postID[:10]
	}
	if len(postID) >= 6 {
		tail = postID[len(postID)-6:]
	}
	return fmt.Sprintf("%s/archives/%s/p%s.%s", strings.TrimSuffix(home, "/"), channel, head, tail)
}
