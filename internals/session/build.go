package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jadenj13/deskdroid/internals/config"
	"github.com/jadenj13/deskdroid/internals/llm"
	"github.com/jadenj13/deskdroid/internals/loop"
	"github.com/jadenj13/deskdroid/internals/observability"
	"github.com/jadenj13/deskdroid/internals/tools"
	"github.com/jadenj13/deskdroid/internals/tools/bash"
	"github.com/jadenj13/deskdroid/internals/tools/computer"
	"github.com/jadenj13/deskdroid/internals/tools/edit"
)

// Deps are the collaborators a Runner is assembled with. Zero values are
// replaced with working defaults.
type Deps struct {
	Log       *slog.Logger
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
	Callbacks loop.Callbacks
	// Transport replaces the client built from cfg. Used by tests.
	Transport llm.Transport
	// ScreenRunner replaces the xdotool runner of the computer tool.
	ScreenRunner computer.Runner
	Now          func() time.Time
}

// NewTransport builds the inference client for the configured provider.
func NewTransport(ctx context.Context, cfg *config.Config) (*llm.Client, error) {
	opts := []llm.Option{
		llm.WithMaxRetries(0),
		llm.WithRequestsPerMinute(cfg.RequestsPerMinute),
	}
	if cfg.Model != "" {
		opts = append(opts, llm.WithModel(cfg.Model))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(cfg.MaxTokens))
	}
	switch llm.Provider(cfg.Provider) {
	case llm.ProviderBedrock:
		opts = append(opts, llm.WithBedrock(cfg.Bedrock.Region))
	case llm.ProviderVertex:
		opts = append(opts, llm.WithVertex(cfg.Vertex.Region, cfg.Vertex.Project))
	}
	client, err := llm.NewClient(ctx, cfg.ResolvedAPIKey(), opts...)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	return client, nil
}

// NewRegistry registers the enabled tools in configuration order.
func NewRegistry(cfg *config.Config, screen computer.Runner, log *slog.Logger) (*tools.Registry, error) {
	var list []tools.Tool
	for _, name := range cfg.Tools.Enabled {
		switch name {
		case computer.Name:
			list = append(list, computer.New(screen, computer.Options{
				Width:           cfg.Display.Width,
				Height:          cfg.Display.Height,
				DisplayNumber:   cfg.Display.Number,
				ScreenshotDelay: cfg.Display.ScreenshotDelay,
			}))
		case bash.Name:
			list = append(list, bash.New(
				bash.WithDir(cfg.Tools.WorkDir),
				bash.WithTimeout(cfg.Tools.BashTimeout),
			))
		case edit.Name:
			list = append(list, edit.New())
		default:
			return nil, fmt.Errorf("unknown tool %q", name)
		}
	}

	opts := []tools.RegistryOption{tools.WithLogger(log)}
	if cfg.Tools.ValidateInput {
		opts = append(opts, tools.WithSchemaValidation())
	}
	return tools.NewRegistry(list, opts...)
}

// New assembles a Runner for one preset: transport, tool registry, sampler
// and resume policy.
func New(ctx context.Context, cfg *config.Config, preset config.Preset, deps Deps) (*Runner, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	transport := deps.Transport
	model := cfg.Model
	if transport == nil {
		client, err := NewTransport(ctx, cfg)
		if err != nil {
			return nil, err
		}
		transport = client
		model = client.Model()
	}

	registry, err := NewRegistry(cfg, deps.ScreenRunner, deps.Log)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	opts := []loop.Option{
		loop.WithCallbacks(deps.Callbacks),
		loop.WithLogger(deps.Log),
		loop.WithMetrics(deps.Metrics),
	}
	if deps.Tracer != nil {
		opts = append(opts, loop.WithTracer(deps.Tracer))
	}
	sampler := loop.New(transport, registry, loop.Config{
		Model:          model,
		System:         cfg.BuildSystemPrompt(preset, deps.Now()),
		MaxTokens:      cfg.MaxTokens,
		ImageRetention: cfg.ImageRetentionFor(preset),
		MaxTurns:       cfg.MaxTurns,
	}, opts...)

	deps.Log.Debug("session assembled", "model", model, "tools", registry.Names())
	return NewRunner(sampler, ResumePolicy{
		Attempts: cfg.Resume.Attempts,
		MaxWait:  cfg.Resume.MaxWait,
	}, deps.Log), nil
}
