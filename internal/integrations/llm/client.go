// Package llm invokes Claude through the Anthropic Messages API, either on
// Amazon Bedrock or against the first-party endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"

	"linebot-bridge/internal/domain"
)

const (
	DefaultBedrockModel   = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	DefaultAnthropicModel = "claude-3-5-sonnet-20240620"
)

// messageCreator is the slice of anthropic.MessageService used here.
type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client sends a conversation to the model and returns the generated text.
type Client struct {
	messages messageCreator
	model    string
}

type Option func(*[]option.RequestOption)

// WithTimeout bounds each model call. Zero leaves the SDK default.
func WithTimeout(d time.Duration) Option {
	return func(opts *[]option.RequestOption) {
		if d > 0 {
			*opts = append(*opts, option.WithRequestTimeout(d))
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(opts *[]option.RequestOption) {
		if strings.TrimSpace(baseURL) != "" {
			*opts = append(*opts, option.WithBaseURL(strings.TrimSpace(baseURL)))
		}
	}
}

// NewBedrock creates a Client that signs requests with awsCfg and targets
// the Bedrock runtime in awsCfg.Region.
func NewBedrock(awsCfg aws.Config, model string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(awsCfg.Region) == "" {
		return nil, errors.New("llm: bedrock region must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultBedrockModel
	}
	return build(model, []option.RequestOption{bedrock.WithConfig(awsCfg)}, opts)
}

// NewAnthropic creates a Client for the first-party Anthropic API.
func NewAnthropic(apiKey, model string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: api key must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultAnthropicModel
	}
	return build(model, []option.RequestOption{option.WithAPIKey(apiKey)}, opts)
}

func build(model string, base []option.RequestOption, opts []Option) (*Client, error) {
	// Failures surface to the caller as-is; the pipeline does not retry.
	reqOpts := append(base, option.WithMaxRetries(0))
	for _, opt := range opts {
		opt(&reqOpts)
	}
	client := anthropic.NewClient(reqOpts...)
	return newWithService(&client.Messages, model)
}

func newWithService(messages messageCreator, model string) (*Client, error) {
	if messages == nil {
		return nil, errors.New("llm: message service must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("llm: model must not be empty")
	}
	return &Client{messages: messages, model: model}, nil
}

// Model returns the model identifier requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Invoke sends messages in order and returns the concatenated text of the
// response. An empty string means the model produced no text.
func (c *Client) Invoke(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", errors.New("llm: max tokens must be positive")
	}
	if len(messages) == 0 {
		return "", errors.New("llm: messages must not be empty")
	}

	msg, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessageParams(messages),
	})
	if err != nil {
		return "", fmt.Errorf("llm: invoke %s: %w", c.model, err)
	}
	if msg == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func toMessageParams(messages []domain.ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role.Normalize() == domain.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
