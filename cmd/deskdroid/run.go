package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dimiro1/banner"
	"github.com/spf13/cobra"

	"github.com/jadenj13/deskdroid/internals/config"
	"github.com/jadenj13/deskdroid/internals/llm"
	"github.com/jadenj13/deskdroid/internals/observability"
	"github.com/jadenj13/deskdroid/internals/session"
	"github.com/jadenj13/deskdroid/internals/slack"
	"github.com/jadenj13/deskdroid/internals/transcript"
)

var runOpts struct {
	preset         string
	model          string
	imageRetention int
	transcriptDir  string
	format         string
	publish        string
	resumeFrom     string
	metricsAddr    string
	notify         bool
	noBanner       bool
}

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a conversation until the model stops asking for tools",
	Long: `Run sends the prompt (or the preset's prompt) to the model and executes the
tools it asks for until it answers without one. The conversation is saved as a
transcript when a transcript directory is configured.`,
	Example: `  deskdroid run "open firefox and search for the weather"
  deskdroid run --preset look
  deskdroid run --resume-from conversation_20250102_030405.json "now close it"`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.preset, "preset", "default", "named preset from the config file")
	f.StringVar(&runOpts.model, "model", "", "model override")
	f.IntVar(&runOpts.imageRetention, "image-retention", 0, "screenshots kept in each request (negative keeps all)")
	f.StringVar(&runOpts.transcriptDir, "transcript", "", "directory to save the transcript to")
	f.StringVar(&runOpts.format, "format", "", "transcript format: json or yaml")
	f.StringVar(&runOpts.publish, "publish", "", "upload the transcript: github or gitlab")
	f.StringVar(&runOpts.resumeFrom, "resume-from", "", "continue the conversation in a saved transcript")
	f.StringVar(&runOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.BoolVar(&runOpts.notify, "notify", false, "post a summary to the configured Slack channel")
	f.BoolVar(&runOpts.noBanner, "no-banner", false, "do not print the startup banner")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	preset, err := cfg.Preset(runOpts.preset)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("image-retention") {
		n := runOpts.imageRetention
		preset.ImageRetention = &n
	}

	conv, prompt, err := initialConversation(args, preset)
	if err != nil {
		return err
	}

	if !runOpts.noBanner {
		printBanner()
	}

	metrics := observability.NewMetrics()
	if addr := firstNonEmpty(runOpts.metricsAddr, cfg.Metrics.Addr); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, log); err != nil {
				log.Error("metrics server failed", "err", err)
			}
		}()
	}

	tracer, shutdown, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "deskdroid",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn("tracer shutdown failed", "err", err)
		}
	}()

	r := &renderer{out: out}
	runner, err := session.New(ctx, cfg, preset, session.Deps{
		Log:       log,
		Metrics:   metrics,
		Tracer:    tracer,
		Callbacks: r.callbacks(),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "user: %s\n", prompt)
	result, runErr := runner.Run(ctx, conv)
	if runErr != nil {
		fmt.Fprintf(out, "error: %s\n", describeError(runErr))
	}

	// An interrupted run is still recorded.
	after, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	url := saveTranscript(after, result)
	if runOpts.notify {
		notifyRun(after, prompt, result, runErr, url)
	}
	return runErr
}

func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		c.Model = runOpts.model
	}
	if flags.Changed("transcript") {
		c.Transcript.Dir = runOpts.transcriptDir
	}
	if flags.Changed("format") {
		c.Transcript.Format = runOpts.format
	}
	if flags.Changed("publish") {
		c.Transcript.Publish = runOpts.publish
	}
}

// initialConversation builds the conversation to start from: a saved
// transcript when resuming, followed by the prompt from the arguments or the
// preset.
func initialConversation(args []string, preset config.Preset) (llm.Conversation, string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" && runOpts.resumeFrom == "" {
		prompt = preset.Prompt
	}

	var conv llm.Conversation
	if runOpts.resumeFrom != "" {
		doc, err := transcript.Load(runOpts.resumeFrom)
		if err != nil {
			return nil, "", err
		}
		if conv, err = doc.Conversation(); err != nil {
			return nil, "", fmt.Errorf("resume from %s: %w", runOpts.resumeFrom, err)
		}
		conv = conv.Compact()
	}

	if prompt != "" {
		conv = append(conv, llm.NewUserText(prompt))
	}
	if len(conv) == 0 {
		return nil, "", fmt.Errorf("a prompt is required (pass one or use a preset that has one)")
	}
	return conv, prompt, nil
}

// saveTranscript writes and optionally publishes the conversation. Failures
// are logged; the run's own result is what the command reports.
func saveTranscript(ctx context.Context, conv llm.Conversation) string {
	if cfg.Transcript.Dir == "" && cfg.Transcript.Publish == "" {
		return ""
	}
	doc, err := transcript.FromConversation(conv)
	if err != nil {
		log.Error("failed to build transcript", "err", err)
		return ""
	}
	doc.Model = cfg.Model

	if cfg.Transcript.Dir != "" {
		path, err := transcript.Save(cfg.Transcript.Dir, doc, cfg.Transcript.Format, time.Now())
		if err != nil {
			log.Error("failed to save transcript", "err", err)
		} else {
			log.Info("transcript saved", "path", path)
		}
	}

	if cfg.Transcript.Publish == "" {
		return ""
	}
	pub, err := newPublisher(ctx, cfg, cfg.Transcript.Publish)
	if err != nil {
		log.Error("cannot publish transcript", "err", err)
		return ""
	}
	var buf bytes.Buffer
	if err := transcript.Encode(&buf, doc, cfg.Transcript.Format); err != nil {
		log.Error("failed to encode transcript", "err", err)
		return ""
	}
	name := fmt.Sprintf("conversation_%s.%s", time.Now().Format("20060102_150405"), cfg.Transcript.Format)
	url, err := pub.Publish(ctx, name, buf.Bytes())
	if err != nil {
		log.Error("failed to publish transcript", "err", err)
		return ""
	}
	log.Info("transcript published", "url", url)
	return url
}

func notifyRun(ctx context.Context, prompt string, conv llm.Conversation, runErr error, url string) {
	token := config.ResolveEnvVars(cfg.Slack.BotToken)
	if token == "" || cfg.Slack.Channel == "" {
		log.Warn("slack.bot_token and slack.channel are required for --notify")
		return
	}
	var result string
	if last, ok := conv.Last(); ok && last.Role == llm.RoleAssistant {
		result = last.Text()
	}
	n := slack.NewNotifier(token, cfg.Slack.Channel)
	err := n.NotifyRunFinished(ctx, slack.RunFinishedMessage{
		Prompt:        prompt,
		Result:        result,
		Messages:      len(conv),
		Err:           runErr,
		TranscriptURL: url,
	})
	if err != nil {
		log.Error("failed to notify", "err", err)
	}
}

func printBanner() {
	tpl := "{{ .Title \"deskdroid\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
