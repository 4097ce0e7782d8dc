package main

import (
	"context"
	"fmt"

	"github.com/jadenj13/deskdroid/internals/config"
	"github.com/jadenj13/deskdroid/internals/transcript"
)

func newPublisher(ctx context.Context, cfg *config.Config, kind string) (transcript.Publisher, error) {
	switch kind {
	case "github":
		token := config.ResolveEnvVars(cfg.GitHub.Token)
		if token == "" {
			return nil, fmt.Errorf("github.token is required to publish gists")
		}
		return transcript.NewGistPublisher(ctx, token, "")
	case "gitlab":
		token := config.ResolveEnvVars(cfg.GitLab.Token)
		if token == "" {
			return nil, fmt.Errorf("gitlab.token is required to publish snippets")
		}
		return transcript.NewSnippetPublisher(token, cfg.GitLab.BaseURL)
	default:
		return nil, fmt.Errorf("unknown publisher %q", kind)
	}
}
