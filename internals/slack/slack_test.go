package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/jadenj13/deskdroid/internals/llm"
	"github.com/jadenj13/deskdroid/internals/loop"
	"github.com/jadenj13/deskdroid/internals/session"
	"github.com/jadenj13/deskdroid/internals/tools"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type post struct {
	channel string
	values  map[string][]string
}

type fakePoster struct {
	posts []post
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	_, values, err := slack.UnsafeApplyMsgOptions("xoxb-test", channelID, "https://slack.com/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.posts = append(f.posts, post{channel: channelID, values: values})
	return channelID, "1", nil
}

type fakeAgent struct {
	got   []IncomingMessage
	reply string
	err   error
}

func (f *fakeAgent) Handle(_ context.Context, msg IncomingMessage) (string, error) {
	f.got = append(f.got, msg)
	return f.reply, f.err
}

func newTestHandler(agent Agent) (*Handler, *fakePoster) {
	p := &fakePoster{}
	return &Handler{client: p, botID: "UBOT", agent: agent, log: quiet}, p
}

func TestMentionIsDispatchedAndAnsweredInThread(t *testing.T) {
	agent := &fakeAgent{reply: "Firefox is open."}
	h, p := newTestHandler(agent)

	h.handleCallback(context.Background(), slackevents.EventsAPIInnerEvent{
		Data: &slackevents.AppMentionEvent{
			User:      "U1",
			Channel:   "C1",
			Text:      "<@UBOT> open firefox",
			TimeStamp: "1700000000.0001",
		},
	})

	if len(agent.got) != 1 {
		t.Fatalf("dispatched %d messages", len(agent.got))
	}
	msg := agent.got[0]
	if msg.Text != "open firefox" || msg.ThreadTS != "1700000000.0001" || msg.IsDM {
		t.Errorf("msg = %+v", msg)
	}
	if len(p.posts) != 1 {
		t.Fatalf("posts = %d", len(p.posts))
	}
	got := p.posts[0]
	if got.channel != "C1" || got.values["thread_ts"][0] != "1700000000.0001" || got.values["text"][0] != "Firefox is open." {
		t.Errorf("post = %+v", got)
	}
}

func TestMessageEventFiltering(t *testing.T) {
	tests := []struct {
		name string
		ev   *slackevents.MessageEvent
		want int
	}{
		{"dm", &slackevents.MessageEvent{ChannelType: "im", Channel: "D1", User: "U1", Text: "hi", TimeStamp: "1"}, 1},
		{"channel message", &slackevents.MessageEvent{ChannelType: "channel", Channel: "C1", User: "U1", Text: "hi", TimeStamp: "1"}, 0},
		{"bot message", &slackevents.MessageEvent{ChannelType: "im", BotID: "B1", Text: "hi", TimeStamp: "1"}, 0},
		{"edit", &slackevents.MessageEvent{ChannelType: "im", SubType: "message_changed", Text: "hi", TimeStamp: "1"}, 0},
		{"empty", &slackevents.MessageEvent{ChannelType: "im", Channel: "D1", User: "U1", TimeStamp: "1"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &fakeAgent{reply: "ok"}
			h, _ := newTestHandler(agent)
			h.handleCallback(context.Background(), slackevents.EventsAPIInnerEvent{Data: tt.ev})
			if len(agent.got) != tt.want {
				t.Errorf("dispatched %d, want %d", len(agent.got), tt.want)
			}
		})
	}
}

func TestFailedRunIsReported(t *testing.T) {
	agent := &fakeAgent{err: &llm.RateLimitedError{
		TransportError: llm.TransportError{Op: "messages.new", StatusCode: 429, Err: errors.New("slow down")},
		RetryAfter:     30 * time.Second,
	}}
	h, p := newTestHandler(agent)
	h.dispatch(context.Background(), IncomingMessage{ChannelID: "D1", ThreadTS: "1", Text: "go"})

	if len(p.posts) != 1 || !strings.Contains(p.posts[0].values["text"][0], "Try again in 30s") {
		t.Errorf("posts = %+v", p.posts)
	}
}

type echoRunner struct {
	lens []int
	err  error
}

func (r *echoRunner) Run(_ context.Context, conv llm.Conversation) (llm.Conversation, error) {
	r.lens = append(r.lens, len(conv))
	if r.err != nil {
		return conv, r.err
	}
	return append(conv, llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{
		llm.NewTextBlock("reply to " + conv[len(conv)-1].Text()),
	}}), nil
}

func TestThreadAgentKeepsConversationPerThread(t *testing.T) {
	store := session.NewStore()
	runner := &echoRunner{}
	agent := NewThreadAgent(store, runner, quiet)
	ctx := context.Background()

	reply, err := agent.Handle(ctx, IncomingMessage{ThreadTS: "T1", ChannelID: "C1", Text: "one"})
	if err != nil || reply != "reply to one" {
		t.Fatalf("reply = %q, %v", reply, err)
	}
	agent.Handle(ctx, IncomingMessage{ThreadTS: "T1", ChannelID: "C1", Text: "two"})
	agent.Handle(ctx, IncomingMessage{ThreadTS: "T2", ChannelID: "C1", Text: "other"})

	if want := []int{1, 3, 1}; len(runner.lens) != 3 || runner.lens[1] != want[1] || runner.lens[2] != want[2] {
		t.Errorf("runner saw %v, want %v", runner.lens, want)
	}
	th, _ := store.Get("T1")
	if len(th.Conversation) != 4 {
		t.Errorf("thread T1 has %d messages", len(th.Conversation))
	}
}

func TestThreadAgentDiscardsFailedTurn(t *testing.T) {
	store := session.NewStore()
	runner := &echoRunner{}
	agent := NewThreadAgent(store, runner, quiet)
	ctx := context.Background()

	agent.Handle(ctx, IncomingMessage{ThreadTS: "T1", Text: "one"})
	runner.err = errors.New("boom")
	if _, err := agent.Handle(ctx, IncomingMessage{ThreadTS: "T1", Text: "two"}); err == nil {
		t.Fatal("expected error")
	}
	th, _ := store.Get("T1")
	if len(th.Conversation) != 2 {
		t.Errorf("thread has %d messages, want 2", len(th.Conversation))
	}
}

func TestNotifier(t *testing.T) {
	var text, channel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("path = %s", r.URL.Path)
		}
		r.ParseForm()
		text, channel = r.FormValue("text"), r.FormValue("channel")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C9","ts":"1700000000.0001"}`))
	}))
	defer srv.Close()

	n := NewNotifier("xoxb-test", "C9", slack.OptionAPIURL(srv.URL+"/"))
	err := n.NotifyRunFinished(context.Background(), RunFinishedMessage{
		Prompt:        "open  the\nbrowser",
		Result:        "The browser is open.",
		Messages:      6,
		TranscriptURL: "https://gist.github.com/abc",
	})
	if err != nil {
		t.Fatalf("NotifyRunFinished: %v", err)
	}
	if channel != "C9" {
		t.Errorf("channel = %q", channel)
	}
	for _, want := range []string{"run finished", "> open the browser", "The browser is open.", "Messages: 6", "gist.github.com/abc"} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}
}

func TestNotifierReportsSlackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	n := NewNotifier("xoxb-test", "C404", slack.OptionAPIURL(srv.URL+"/"))
	err := n.NotifyRunFinished(context.Background(), RunFinishedMessage{Prompt: "x", Err: errors.New("boom")})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v", err)
	}
}

func TestOneLineKeepsRunesWhole(t *testing.T) {
	got := oneLine(strings.Repeat("a", 199) + "é tail")
	if !utf8.ValidString(got) {
		t.Fatalf("oneLine produced invalid UTF-8: %q", got)
	}
	if want := strings.Repeat("a", 199) + "..."; got != want {
		t.Errorf("oneLine = %q, want %q", got, want)
	}
}

type sentRequest struct {
	Messages []struct {
		Role    string            `json:"role"`
		Content []json.RawMessage `json:"content"`
	} `json:"messages"`
}

func TestThreadSurvivesEmptyResponse(t *testing.T) {
	var bodies []sentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body sentRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"test-model",` +
			`"content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`))
	}))
	defer srv.Close()

	client, err := llm.NewClient(context.Background(), "test-key", llm.WithBaseURL(srv.URL), llm.WithModel("test-model"))
	if err != nil {
		t.Fatal(err)
	}
	registry, err := tools.NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	sampler := loop.New(client, registry, loop.Config{ImageRetention: -1}, loop.WithLogger(quiet))
	agent := NewThreadAgent(session.NewStore(), session.NewRunner(sampler, session.ResumePolicy{}, quiet), quiet)
	ctx := context.Background()

	for _, text := range []string{"first", "second"} {
		if _, err := agent.Handle(ctx, IncomingMessage{ThreadTS: "1", ChannelID: "C1", Text: text}); err != nil {
			t.Fatalf("Handle(%q): %v", text, err)
		}
	}

	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	second := bodies[1].Messages
	if len(second) != 2 {
		t.Fatalf("second request has %d messages, want 2", len(second))
	}
	for i, m := range second {
		if m.Role != "user" || len(m.Content) == 0 {
			t.Errorf("message[%d] = role %q with %d blocks", i, m.Role, len(m.Content))
		}
	}
}
