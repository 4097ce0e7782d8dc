package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Handler turns Slack mentions and DMs into desktop runs and replies in the
// thread. Messages are handled one at a time; there is one desktop.
type Handler struct {
	client poster
	socket *socketmode.Client
	botID  string
	agent  Agent
	log    *slog.Logger
}

type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Agent interface {
	Handle(ctx context.Context, msg IncomingMessage) (string, error)
}

type IncomingMessage struct {
	ThreadTS  string // root message timestamp; identifies the conversation
	ChannelID string
	UserID    string
	Text      string
	IsDM      bool
}

func NewHandler(ctx context.Context, botToken, appToken string, agent Agent, log *slog.Logger) (*Handler, error) {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(
		api,
		socketmode.OptionLog(slog.NewLogLogger(log.Handler(), slog.LevelDebug)),
	)

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}

	return &Handler{
		client: api,
		socket: socket,
		botID:  auth.UserID,
		agent:  agent,
		log:    log,
	}, nil
}

// Run connects over socket mode and handles events until ctx is done.
func (h *Handler) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- h.socket.RunContext(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("socket mode: %w", err)
		case evt, ok := <-h.socket.Events:
			if !ok {
				return nil
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				h.socket.Ack(*evt.Request)
				h.handleEventsAPI(ctx, evt)
			case socketmode.EventTypeConnecting:
				h.log.Info("connecting to slack")
			case socketmode.EventTypeConnected:
				h.log.Info("connected to slack")
			case socketmode.EventTypeConnectionError:
				h.log.Error("slack connection error")
			}
		}
	}
}

func (h *Handler) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	payload, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if payload.Type == slackevents.CallbackEvent {
		h.handleCallback(ctx, payload.InnerEvent)
	}
}

func (h *Handler) handleCallback(ctx context.Context, inner slackevents.EventsAPIInnerEvent) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		h.dispatch(ctx, IncomingMessage{
			ThreadTS:  threadTS(ev.ThreadTimeStamp, ev.TimeStamp),
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Text:      h.stripMention(ev.Text),
		})

	case *slackevents.MessageEvent:
		// Channel messages arrive as mentions; only DMs are handled here.
		if ev.BotID != "" || ev.SubType != "" || ev.ChannelType != "im" {
			return
		}
		h.dispatch(ctx, IncomingMessage{
			ThreadTS:  threadTS(ev.ThreadTimeStamp, ev.TimeStamp),
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Text:      ev.Text,
			IsDM:      true,
		})
	}
}

func (h *Handler) dispatch(ctx context.Context, msg IncomingMessage) {
	if msg.Text == "" {
		return
	}
	h.log.Info("incoming message",
		"channel", msg.ChannelID,
		"thread", msg.ThreadTS,
		"user", msg.UserID,
		"dm", msg.IsDM,
	)

	reply, err := h.agent.Handle(ctx, msg)
	if err != nil {
		h.log.Error("run failed", "thread", msg.ThreadTS, "err", err)
		reply = failureReply(err)
	}
	if reply == "" {
		reply = "Done."
	}
	h.postReply(ctx, msg.ChannelID, msg.ThreadTS, reply)
}

func (h *Handler) postReply(ctx context.Context, channelID, threadTS, text string) {
	_, _, err := h.client.PostMessageContext(ctx,
		channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		h.log.Error("failed to post message", "err", err)
	}
}

func (h *Handler) stripMention(text string) string {
	mention := "<@" + h.botID + ">"
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), mention))
}

func threadTS(threadTS, msgTS string) string {
	if threadTS != "" {
		return threadTS
	}
	return msgTS
}
