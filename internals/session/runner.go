package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jadenj13/deskdroid/internals/llm"
)

// Sampler runs one conversation to completion. *loop.Sampler satisfies it.
type Sampler interface {
	Run(ctx context.Context, conv llm.Conversation) (llm.Conversation, error)
}

// ResumePolicy controls what happens when a run stops on a rate limit.
// Attempts is the number of resumes after the first run; zero disables them.
type ResumePolicy struct {
	Attempts int
	MaxWait  time.Duration
}

// fallbackWait is used when the server sends no retry-after hint.
const fallbackWait = 30 * time.Second

// Runner runs conversations through a Sampler and resumes them from the
// partial conversation when they stop on a rate limit.
type Runner struct {
	sampler Sampler
	policy  ResumePolicy
	log     *slog.Logger
}

func NewRunner(sampler Sampler, policy ResumePolicy, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if policy.Attempts < 0 {
		policy.Attempts = 0
	}
	return &Runner{sampler: sampler, policy: policy, log: log}
}

// Start runs a new conversation that opens with prompt.
func (r *Runner) Start(ctx context.Context, prompt string) (llm.Conversation, error) {
	return r.Run(ctx, llm.Conversation{llm.NewUserText(prompt)})
}

// Run returns the longest conversation reached, also on error. Only rate
// limits are resumed; every other error is returned as is.
func (r *Runner) Run(ctx context.Context, conv llm.Conversation) (llm.Conversation, error) {
	current := conv
	err := retry.Do(
		func() error {
			out, err := r.sampler.Run(ctx, current)
			current = out
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.policy.Attempts+1)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			_, ok := llm.IsRateLimited(err)
			return ok
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			return r.wait(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.log.Warn("rate limited, resuming", "attempt", n+1, "wait", r.wait(err), "messages", len(current))
		}),
	)
	return current, err
}

func (r *Runner) wait(err error) time.Duration {
	d, _ := llm.IsRateLimited(err)
	if d <= 0 {
		d = fallbackWait
	}
	if r.policy.MaxWait > 0 && d > r.policy.MaxWait {
		d = r.policy.MaxWait
	}
	return d
}
