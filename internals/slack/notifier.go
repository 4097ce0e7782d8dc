package slack

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/slack-go/slack"
)

type Notifier struct {
	client    *slack.Client
	channelID string // channel that receives run summaries
}

func NewNotifier(botToken, channelID string, opts ...slack.Option) *Notifier {
	return &Notifier{
		client:    slack.New(botToken, opts...),
		channelID: channelID,
	}
}

type RunFinishedMessage struct {
	Prompt        string
	Result        string
	Messages      int
	Err           error
	TranscriptURL string
}

func (n *Notifier) NotifyRunFinished(ctx context.Context, msg RunFinishedMessage) error {
	var sb strings.Builder
	if msg.Err != nil {
		fmt.Fprintf(&sb, ":x: *deskdroid run failed*\n> %s\nError: `%v`\n", oneLine(msg.Prompt), msg.Err)
	} else {
		fmt.Fprintf(&sb, ":white_check_mark: *deskdroid run finished*\n> %s\n", oneLine(msg.Prompt))
	}
	if msg.Result != "" {
		sb.WriteString(msg.Result)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Messages: %d", msg.Messages)
	if msg.TranscriptURL != "" {
		fmt.Fprintf(&sb, "\nTranscript: <%s|view>", msg.TranscriptURL)
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(sb.String(), false),
	)
	if err != nil {
		return fmt.Errorf("slack notify: %w", err)
	}
	return nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 200 {
		n := 200
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n] + "..."
	}
	return s
}
