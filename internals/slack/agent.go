package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jadenj13/deskdroid/internals/llm"
	"github.com/jadenj13/deskdroid/internals/session"
)

// Runner continues a conversation. *session.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, conv llm.Conversation) (llm.Conversation, error)
}

// ThreadAgent keeps one conversation per Slack thread and answers each new
// message with the assistant's final text.
type ThreadAgent struct {
	store  *session.Store
	runner Runner
	log    *slog.Logger
}

func NewThreadAgent(store *session.Store, runner Runner, log *slog.Logger) *ThreadAgent {
	return &ThreadAgent{store: store, runner: runner, log: log}
}

// Handle appends msg to the thread's conversation and runs it. A failed run
// leaves the thread as it was before the message.
func (a *ThreadAgent) Handle(ctx context.Context, msg IncomingMessage) (string, error) {
	th := a.store.GetOrCreate(msg.ThreadTS, msg.ChannelID)
	th.Lock()
	defer th.Unlock()

	conv := append(th.Conversation.Compact(), llm.NewUserText(msg.Text))
	out, err := a.runner.Run(ctx, conv)
	if err != nil {
		a.log.Warn("discarding failed turn", "thread", msg.ThreadTS, "messages", len(out))
		return "", err
	}
	a.store.Update(th, out.Compact())

	last, ok := out.Last()
	if !ok {
		return "", nil
	}
	return last.Text(), nil
}

func failureReply(err error) string {
	if after, ok := llm.IsRateLimited(err); ok {
		if after > 0 {
			return fmt.Sprintf("I'm being rate limited. Try again in %s.", after.Round(time.Second))
		}
		return "I'm being rate limited. Try again in a bit."
	}
	var pe *llm.ProtocolError
	if errors.As(err, &pe) {
		return "The model sent something I can't handle: " + pe.Error()
	}
	return "Sorry, something went wrong: " + err.Error()
}
