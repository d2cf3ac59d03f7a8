// Package twilio provides SMS and WhatsApp delivery through the Twilio Messages API.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaydesk/inbox/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://api.twilio.com"
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 10.0
	whatsAppPrefix   = "whatsapp:"
)

// Config holds Twilio sender configuration.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string // API root, overridable for tests
	From       string // sender number; for WhatsApp the "whatsapp:" prefix is added when missing
	Channel    domain.Channel
	RateLimit  float64 // requests per second
	Timeout    time.Duration
}

// Sender sends messages on one channel through the Twilio Messages API.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new Twilio sender for config.Channel.
func NewSender(config Config) (*Sender, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, errors.New("twilio sender: account sid and auth token are required")
	}
	if config.From == "" {
		return nil, fmt.Errorf("twilio sender: from number is required for %s", config.Channel)
	}
	switch config.Channel {
	case domain.ChannelSMS:
	case domain.ChannelWhatsApp:
		config.From = withWhatsAppPrefix(config.From)
	default:
		return nil, fmt.Errorf("twilio sender: unsupported channel %q", config.Channel)
	}

	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("twilio sender configured",
		"channel", config.Channel,
		"from", config.From,
		"rate_limit", config.RateLimit,
		"timeout", config.Timeout,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Channel returns the channel this sender delivers on.
func (s *Sender) Channel() domain.Channel {
	return s.config.Channel
}

// Send creates a Twilio message to the given number and returns its SID.
func (s *Sender) Send(ctx context.Context, to, body string) (string, error) {
	if to == "" {
		return "", &PermanentError{Message: "destination is empty"}
	}
	if s.config.Channel == domain.ChannelWhatsApp {
		to = withWhatsAppPrefix(to)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.config.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		s.config.BaseURL, url.PathEscape(s.config.AccountSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.config.AccountSID, s.config.AuthToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, to)
}

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (s *Sender) handleResponse(resp *http.Response, to string) (string, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RetryableError{Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var msg messageResponse
		if err := json.Unmarshal(body, &msg); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if msg.SID == "" {
			return "", fmt.Errorf("missing sid in response body=%q", truncate(body))
		}
		slog.Debug("twilio message created",
			"channel", s.config.Channel,
			"to", maskNumber(to),
			"sid", msg.SID,
			"status", msg.Status,
		)
		return msg.SID, nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)
	message := apiErr.Message
	if message == "" {
		message = truncate(body)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &RetryableError{Status: resp.StatusCode, Code: apiErr.Code, Message: message}
	case resp.StatusCode >= 400:
		return "", &PermanentError{Status: resp.StatusCode, Code: apiErr.Code, Message: message}
	default:
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, message)
	}
}

func withWhatsAppPrefix(number string) string {
	if strings.HasPrefix(number, whatsAppPrefix) {
		return number
	}
	return whatsAppPrefix + number
}

// maskNumber hides all but the last four digits of a number for logging.
func maskNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// PermanentError indicates that Twilio rejected the message and retrying will not help,
// e.g. an invalid destination number.
type PermanentError struct {
	Status  int
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return formatError(e.Status, e.Code, e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary failure such as rate limiting or a provider outage.
type RetryableError struct {
	Status  int
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	return formatError(e.Status, e.Code, e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

func formatError(status, code int, message string) string {
	switch {
	case status > 0 && code > 0:
		return fmt.Sprintf("twilio error %d (code %d): %s", status, code, message)
	case status > 0:
		return fmt.Sprintf("twilio error %d: %s", status, message)
	default:
		return fmt.Sprintf("twilio error: %s", message)
	}
}
