package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

const (
	defaultBaseURL = "https://api.line.me"
	defaultTimeout = 5 * time.Second

	// MaxTextLength is the provider limit for a single text message, in characters.
	MaxTextLength = 5000
)

// TokenSource supplies the channel access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a token known at startup.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", errors.New("line: access token is empty")
	}
	return string(t), nil
}

// HTTPStatusError captures non-2xx responses from the Messaging API.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("line: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends reply messages through the LINE Messaging API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource

	// mu guards the lazily built API and serializes calls, since
	// MessagingApiAPI.WithContext mutates the shared client.
	mu       sync.Mutex
	api      *messaging_api.MessagingApiAPI
	apiToken string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds each reply call, including reading the response. It
// applies to a copy of whichever HTTP client is configured.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			return
		}
		hc := http.Client{}
		if c.httpClient != nil {
			hc = *c.httpClient
		}
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// NewClient creates a Client that authenticates with tokens. The token is
// not fetched until the first reply.
func NewClient(tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("line: token source must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = endpoint(c.baseURL)
	return c, nil
}

func endpoint(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	return base
}

// Reply sends text as a single text message answering replyToken.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	if strings.TrimSpace(replyToken) == "" {
		return errors.New("line: reply token must not be empty")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("line: resolve access token: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	api, err := c.apiFor(token)
	if err != nil {
		return fmt.Errorf("line: create messaging client: %w", err)
	}

	res, _, err := api.WithContext(ctx).ReplyMessageWithHttpInfo(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		if res != nil && (res.StatusCode < 200 || res.StatusCode >= 300) {
			err = &HTTPStatusError{StatusCode: res.StatusCode, Body: err.Error()}
		}
		return fmt.Errorf("line: reply failed: %w", err)
	}
	return nil
}

// apiFor returns the messaging client for token, rebuilding it when the
// token changes. Callers hold c.mu.
func (c *Client) apiFor(token string) (*messaging_api.MessagingApiAPI, error) {
	if c.api != nil && c.apiToken == token {
		return c.api, nil
	}
	api, err := messaging_api.NewMessagingApiAPI(token,
		messaging_api.WithHTTPClient(c.httpClient),
		messaging_api.WithEndpoint(c.baseURL),
	)
	if err != nil {
		return nil, err
	}
	c.api = api
	c.apiToken = token
	return api, nil
}
