// Package openai provides a [query.Client] that answers queries with an
// OpenAI-compatible chat completion model.
//
// It is meant as a fallback behind the primary query backend: answers carry
// text only, so playback relies on speech synthesis.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/embla/pkg/query"
)

// DefaultSystemPrompt instructs the model to answer briefly in Icelandic.
const DefaultSystemPrompt = "Þú ert Embla, raddaðstoðarmaður. Svaraðu spurningum notandans stuttlega og skýrt á íslensku, í einni eða tveimur setningum."

// SourceName is reported as the answer source.
const SourceName = "OpenAI"

// Ensure Client implements query.Client at compile time.
var _ query.Client = (*Client)(nil)

// Client implements query.Client using the OpenAI chat completions API.
type Client struct {
	client       oai.Client
	model        string
	systemPrompt string
	maxTokens    int64
}

type config struct {
	baseURL      string
	systemPrompt string
	maxTokens    int64
	timeout      time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// WithMaxTokens caps the answer length. Defaults to 200.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = int64(n) }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Client.
func New(apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai query: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai query: model must not be empty")
	}

	cfg := &config{systemPrompt: DefaultSystemPrompt, maxTokens: 200}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Client{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		systemPrompt: cfg.systemPrompt,
		maxTokens:    cfg.maxTokens,
	}, nil
}

// Submit implements [query.Client]. Only the best alternative is sent.
func (c *Client) Submit(ctx context.Context, req query.Request) (*query.Answer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(req.Text())

	params := oai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(c.systemPrompt),
			oai.UserMessage(question),
		},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(c.maxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai query: complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai query: complete: no choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, errors.New("openai query: complete: empty answer")
	}
	return &query.Answer{
		Text:     text,
		Question: question,
		Source:   SourceName,
	}, nil
}
