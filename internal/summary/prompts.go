package summary

import (
	"fmt"
	"strings"

	"github.com/slackreports/pkg/models"
)

// Thread summary prompt pair
const (
	// ThreadSummarySystemPrompt defines the assistant role for thread summaries
	ThreadSummarySystemPrompt = `You are an assistant that summarizes Slack conversations.
Write a short, neutral summary of the thread: the question or topic raised in the
main message, the key points made in the replies, and any decision or open item.
Do not invent facts that are not present in the messages.`

	// ThreadSummaryUserPrompt is filled with the main message and the formatted replies
	ThreadSummaryUserPrompt = `Summarize the following thread.

Main message:
%s

Replies:
%s`

	noReplies = "(no replies)"
)

// FormatReplies renders replies one per line as "author: text"
func FormatReplies(replies []models.Reply) string {
	if len(replies) == 0 {
		return noReplies
	}
	var b strings.Builder
	for i, r := range replies {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", r.Author, r.Text)
	}
	return b.String()
}

// BuildPrompts returns the system and user prompts for a thread
func BuildPrompts(thread models.ThreadData) (string, string) {
	main := fmt.Sprintf("%s: %s", thread.MainMessage.Author, thread.MainMessage.Text)
	return ThreadSummarySystemPrompt, fmt.Sprintf(ThreadSummaryUserPrompt, main, FormatReplies(thread.Replies))
}
