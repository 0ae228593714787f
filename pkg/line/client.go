// Package line is a small client for the LINE Messaging API push endpoints.
package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/lesson-notifier/pkg/circuitbreaker"
)

const (
	DefaultBaseURL = "https://api.line.me"

	// MaxMulticastRecipients is the LINE limit on "to" entries per multicast call.
	MaxMulticastRecipients = 500

	multicastPath = "/v2/bot/message/multicast"
)

var (
	ErrMissingToken = errors.New("line: channel access token is required")
	ErrNoRecipients = errors.New("line: at least one recipient is required")
	ErrEmptyMessage = errors.New("line: message text is required")
)

// Credentials identify the LINE channel a message is sent through.
type Credentials struct {
	ChannelAccessToken string
	ChannelSecret      string
}

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// APIError is a non-2xx answer from the LINE API.
type APIError struct {
	StatusCode int
	Message    string
	Details    []ErrorDetail
}

type ErrorDetail struct {
	Message  string `json:"message"`
	Property string `json:"property"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("line api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("line api: status %d: %s", e.StatusCode, e.Message)
}

type errorResponse struct {
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type multicastRequest struct {
	To       []string      `json:"to"`
	Messages []textMessage `json:"messages"`
}

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "line-api",
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerTimeout,
		}),
	}
}

// Multicast sends one text message to every recipient, splitting the list
// into calls of at most MaxMulticastRecipients.
func (c *Client) Multicast(ctx context.Context, creds Credentials, to []string, text string) error {
	if creds.ChannelAccessToken == "" {
		return ErrMissingToken
	}
	if len(to) == 0 {
		return ErrNoRecipients
	}
	if text == "" {
		return ErrEmptyMessage
	}

	for start := 0; start < len(to); start += MaxMulticastRecipients {
		end := min(start+MaxMulticastRecipients, len(to))
		if err := c.multicast(ctx, creds, to[start:end], text); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) multicast(ctx context.Context, creds Credentials, to []string, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	// 4xx answers are the caller's problem and must not open the breaker.
	var clientErr error
	err := c.breaker.Execute(func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(creds.ChannelAccessToken).
			SetBody(multicastRequest{
				To:       to,
				Messages: []textMessage{{Type: "text", Text: text}},
			}).
			SetError(&errorResponse{}).
			Post(multicastPath)
		if err != nil {
			return err
		}
		if !resp.IsError() {
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode()}
		if body, ok := resp.Error().(*errorResponse); ok && body != nil {
			apiErr.Message = body.Message
			apiErr.Details = body.Details
		}
		if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
			return apiErr
		}
		clientErr = apiErr
		return nil
	})
	if err != nil {
		return err
	}
	return clientErr
}
