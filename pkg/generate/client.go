package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mchmarny/swapeval/pkg/net"
)

const (
	completionsPath  = "/chat/completions"
	roleUser         = "user"
	DefaultMaxTokens = 1000
)

var errNoChoices = errors.New("completion returned no choices")

// Completer returns the model rewrite of a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures the completion client.
type Options struct {
	BaseURL     string
	Model       string
	Token       string
	MaxTokens   int
	Temperature float64
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Client calls an OpenAI compatible chat completions endpoint.
type Client struct {
	http *http.Client
	url  string
	opts Options
}

// NewClient creates a completion client authenticated with the options token.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL required")
	}
	if opts.Model == "" {
		return nil, errors.New("model required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	hc, err := net.GetOAuthClient(ctx, opts.Token)
	if err != nil {
		return nil, fmt.Errorf("creating http client: %w", err)
	}

	return &Client{
		http: hc,
		url:  strings.TrimRight(opts.BaseURL, "/") + completionsPath,
		opts: opts,
	}, nil
}

// Model returns the model name requests are sent for.
func (c *Client) Model() string {
	return c.opts.Model
}

// Complete sends the prompt as a single user message and returns the
// content of the first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.opts.Model,
		Messages:    []message{{Role: roleUser, Content: prompt}},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}

	var resp chatResponse
	if err := net.PostJSON(ctx, c.http, c.url, req, &resp); err != nil {
		return "", fmt.Errorf("requesting completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}
