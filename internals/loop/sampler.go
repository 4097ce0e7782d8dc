package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jadenj13/deskdroid/internals/llm"
	"github.com/jadenj13/deskdroid/internals/observability"
	"github.com/jadenj13/deskdroid/internals/tools"
)

var ErrMaxTurns = errors.New("max turns reached")

// Registry is the tool surface the sampler needs.
type Registry interface {
	Declarations() []llm.ToolDeclaration
	Invoke(ctx context.Context, name string, input json.RawMessage) tools.Result
}

type Config struct {
	Model     string
	System    string
	MaxTokens int64
	// ImageRetention is how many tool-result images are kept in each request.
	// Negative keeps all of them.
	ImageRetention int
	// MaxTurns bounds the number of inference calls per Run. Zero is unbounded.
	MaxTurns int
}

// Callbacks observe a run. They are called synchronously and must not modify
// the blocks they receive. Any of them may be nil.
type Callbacks struct {
	Output     func(block llm.ContentBlock)
	ToolOutput func(result tools.Result, toolUseID string)
	APIEvent   func(req *llm.Request, resp *llm.Response, err error)
}

type Sampler struct {
	transport llm.Transport
	registry  Registry
	cfg       Config
	cb        Callbacks
	log       *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

type Option func(*Sampler)

func WithCallbacks(cb Callbacks) Option {
	return func(s *Sampler) { s.cb = cb }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Sampler) { s.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Sampler) { s.tracer = t }
}

func New(transport llm.Transport, registry Registry, cfg Config, opts ...Option) *Sampler {
	s := &Sampler{
		transport: transport,
		registry:  registry,
		cfg:       cfg,
		log:       slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer(observability.TracerName),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run drives the conversation until the model answers without requesting a
// tool. The returned conversation holds every message appended so far, also
// when err is non-nil. conv itself is not modified.
func (s *Sampler) Run(ctx context.Context, conv llm.Conversation) (llm.Conversation, error) {
	conv = conv.Clone()
	runID := uuid.NewString()
	log := s.log.With("run", runID)

	ctx, span := s.tracer.Start(ctx, "loop.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("model", s.cfg.Model),
	))
	defer span.End()

	log.Info("run started", "messages", len(conv), "tools", len(s.registry.Declarations()))

	for turn := 0; ; turn++ {
		if s.cfg.MaxTurns > 0 && turn >= s.cfg.MaxTurns {
			span.SetStatus(codes.Error, ErrMaxTurns.Error())
			return conv, fmt.Errorf("%w (%d)", ErrMaxTurns, s.cfg.MaxTurns)
		}

		if n := PruneImages(conv, s.cfg.ImageRetention); n > 0 {
			log.Debug("pruned images", "removed", n, "turn", turn)
			s.metrics.RecordPruned(n)
		}

		resp, err := s.sample(ctx, conv)
		if err != nil {
			log.Error("inference failed", "turn", turn, "err", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return conv, err
		}
		s.metrics.RecordTurn()

		if err := validate(resp.Content); err != nil {
			log.Error("protocol violation", "turn", turn, "err", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return conv, err
		}

		assistant := llm.Message{Role: llm.RoleAssistant, Content: resp.Content}
		conv = append(conv, assistant)
		for _, b := range resp.Content {
			if s.cb.Output != nil {
				s.cb.Output(b)
			}
		}

		uses := assistant.ToolUses()
		if len(uses) == 0 {
			log.Info("run finished", "turns", turn+1, "stop_reason", resp.StopReason)
			return conv, nil
		}

		results := make([]llm.ContentBlock, 0, len(uses))
		for _, tu := range uses {
			results = append(results, s.execute(ctx, log, turn, tu))
		}
		conv = append(conv, llm.Message{Role: llm.RoleUser, Content: results})
	}
}

func (s *Sampler) sample(ctx context.Context, conv llm.Conversation) (*llm.Response, error) {
	req := &llm.Request{
		Model:     s.cfg.Model,
		System:    s.cfg.System,
		MaxTokens: s.cfg.MaxTokens,
		Messages:  conv,
		Tools:     s.registry.Declarations(),
	}

	ctx, span := s.tracer.Start(ctx, "loop.inference")
	defer span.End()

	start := time.Now()
	resp, err := s.transport.Sample(ctx, req)
	elapsed := time.Since(start)

	if s.cb.APIEvent != nil {
		s.cb.APIEvent(req, resp, err)
	}

	if err != nil {
		status := "error"
		if _, ok := llm.IsRateLimited(err); ok {
			status = "rate_limited"
		}
		s.metrics.RecordInference(s.cfg.Model, status, elapsed, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp == nil {
		resp = &llm.Response{}
	}
	s.metrics.RecordInference(s.cfg.Model, "ok", elapsed, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	span.SetAttributes(
		attribute.Int64("tokens.input", resp.Usage.InputTokens),
		attribute.Int64("tokens.output", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func (s *Sampler) execute(ctx context.Context, log *slog.Logger, turn int, tu *llm.ToolUseBlock) *llm.ToolResultBlock {
	ctx, span := s.tracer.Start(ctx, "loop.tool", trace.WithAttributes(
		attribute.String("tool.name", tu.Name),
		attribute.String("tool.use_id", tu.ID),
	))
	defer span.End()

	start := time.Now()
	res := s.registry.Invoke(ctx, tu.Name, tu.Input)
	s.metrics.RecordTool(tu.Name, res.IsError(), time.Since(start))

	if res.IsError() {
		span.SetStatus(codes.Error, res.Error)
		log.Warn("tool failed", "tool", tu.Name, "turn", turn, "err", res.Error)
	} else {
		log.Info("tool executed", "tool", tu.Name, "turn", turn, "preview", preview(res.Output, 200), "image", len(res.Image) > 0)
	}

	if s.cb.ToolOutput != nil {
		s.cb.ToolOutput(res, tu.ID)
	}
	return res.Block(tu.ID)
}

// validate accepts only text and tool-use blocks in a response.
func validate(blocks []llm.ContentBlock) error {
	for _, b := range blocks {
		switch b.(type) {
		case *llm.TextBlock, *llm.ToolUseBlock:
		default:
			return &llm.ProtocolError{BlockType: b.BlockType()}
		}
	}
	return nil
}

// preview cuts s to at most max bytes without splitting a rune.
func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
