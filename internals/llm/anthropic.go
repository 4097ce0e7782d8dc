package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxTokens = 4096
)

type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderVertex    Provider = "vertex"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderAnthropic, ProviderBedrock, ProviderVertex:
		return true
	}
	return false
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(p Provider) string {
	switch p {
	case ProviderBedrock:
		return "us.anthropic.claude-sonnet-4-20250514-v1:0"
	case ProviderVertex:
		return "claude-sonnet-4@20250514"
	default:
		return string(anthropic.ModelClaude4Sonnet20250514)
	}
}

// Transport performs one inference request.
type Transport interface {
	Sample(ctx context.Context, req *Request) (*Response, error)
}

type Client struct {
	client     anthropic.Client
	provider   Provider
	model      string
	maxTokens  int64
	betas      []anthropic.AnthropicBeta
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
	maxRetries int
	region     string
	project    string
	httpClient *http.Client
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithMaxTokens(n int64) Option {
	return func(c *Client) { c.maxTokens = n }
}

func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithMaxRetries sets SDK-level retries. The default is 0: retry policy
// belongs to the caller.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithBetas(betas ...string) Option {
	return func(c *Client) {
		for _, b := range betas {
			c.betas = append(c.betas, anthropic.AnthropicBeta(b))
		}
	}
}

// WithRequestsPerMinute throttles requests on the client side. Zero disables it.
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBedrock routes requests through AWS Bedrock using the default AWS
// credential chain.
func WithBedrock(region string) Option {
	return func(c *Client) {
		c.provider = ProviderBedrock
		c.region = region
	}
}

// WithVertex routes requests through Google Vertex AI using application
// default credentials.
func WithVertex(region, project string) Option {
	return func(c *Client) {
		c.provider = ProviderVertex
		c.region = region
		c.project = project
	}
}

func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		provider:  ProviderAnthropic,
		maxTokens: DefaultMaxTokens,
		betas:     []anthropic.AnthropicBeta{anthropic.AnthropicBetaComputerUse2025_01_24},
		apiKey:    apiKey,
	}
	for _, o := range opts {
		o(c)
	}
	if c.model == "" {
		c.model = DefaultModel(c.provider)
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(c.maxRetries)}
	switch c.provider {
	case ProviderAnthropic:
		if c.apiKey == "" {
			return nil, errors.New("anthropic: api key is required")
		}
		reqOpts = append(reqOpts, option.WithAPIKey(c.apiKey))
	case ProviderBedrock:
		if c.region == "" {
			return nil, errors.New("bedrock: region is required")
		}
		reqOpts = append(reqOpts, bedrock.WithLoadDefaultConfig(ctx, config.WithRegion(c.region)))
	case ProviderVertex:
		if c.region == "" || c.project == "" {
			return nil, errors.New("vertex: region and project are required")
		}
		reqOpts = append(reqOpts, vertex.WithGoogleAuth(ctx, c.region, c.project))
	default:
		return nil, fmt.Errorf("unknown provider %q", c.provider)
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(c.httpClient))
	}

	c.client = anthropic.NewClient(reqOpts...)
	return c, nil
}

func (c *Client) Model() string      { return c.model }
func (c *Client) Provider() Provider { return c.provider }

// Sample sends the conversation and returns the assistant's blocks. Request
// fields left empty fall back to the client's model and token limit.
func (c *Client) Sample(ctx context.Context, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "rate limiter", Err: err}
		}
	}

	messages, err := toBetaMessages(req.Messages)
	if err != nil {
		return nil, &TransportError{Op: "encode request", Err: err}
	}
	tools, err := toBetaTools(req.Tools)
	if err != nil {
		return nil, &TransportError{Op: "encode request", Err: err}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
		Betas:     c.betas,
	}
	if req.System != "" {
		params.System = []anthropic.BetaTextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.client.Beta.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	out, err := fromBetaMessage(resp)
	if err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}
	return out, nil
}

func wrapAPIError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return &TransportError{Op: "anthropic api", Err: err}
	}
	te := TransportError{
		Op:         "anthropic api",
		StatusCode: apiErr.StatusCode,
		RequestID:  apiErr.RequestID,
		Err:        err,
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		var h http.Header
		if apiErr.Response != nil {
			h = apiErr.Response.Header
		}
		return &RateLimitedError{TransportError: te, RetryAfter: parseRetryAfter(h, time.Now())}
	}
	return &te
}
