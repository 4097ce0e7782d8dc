package transcript

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v60/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/oauth2"
)

// Publisher uploads a rendered transcript and returns where it can be viewed.
type Publisher interface {
	Publish(ctx context.Context, filename string, content []byte) (string, error)
}

// GistPublisher stores transcripts as secret GitHub gists.
type GistPublisher struct {
	gh *github.Client
}

func NewGistPublisher(ctx context.Context, token, baseURL string) (*GistPublisher, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		gh.BaseURL = u
	}
	return &GistPublisher{gh: gh}, nil
}

func (p *GistPublisher) Publish(ctx context.Context, filename string, content []byte) (string, error) {
	gist := &github.Gist{
		Description: github.String("deskdroid transcript " + filename),
		Public:      github.Bool(false),
		Files: map[github.GistFilename]github.GistFile{
			github.GistFilename(filename): {Content: github.String(string(content))},
		},
	}
	created, _, err := p.gh.Gists.Create(ctx, gist)
	if err != nil {
		return "", fmt.Errorf("github create gist: %w", err)
	}
	return created.GetHTMLURL(), nil
}

// SnippetPublisher stores transcripts as private GitLab snippets.
type SnippetPublisher struct {
	gl *gitlab.Client
}

func NewSnippetPublisher(token, baseURL string) (*SnippetPublisher, error) {
	gl, err := gitlab.NewClient(token, gitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("gitlab client: %w", err)
	}
	return &SnippetPublisher{gl: gl}, nil
}

func (p *SnippetPublisher) Publish(ctx context.Context, filename string, content []byte) (string, error) {
	opts := &gitlab.CreateSnippetOptions{
		Title:       gitlab.Ptr("deskdroid transcript " + filename),
		Description: gitlab.Ptr("Conversation recorded by deskdroid"),
		Visibility:  gitlab.Ptr(gitlab.PrivateVisibility),
		Files: &[]*gitlab.CreateSnippetFileOptions{{
			FilePath: gitlab.Ptr(filename),
			Content:  gitlab.Ptr(string(content)),
		}},
	}
	snippet, _, err := p.gl.Snippets.CreateSnippet(opts, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("gitlab create snippet: %w", err)
	}
	return snippet.WebURL, nil
}
