package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/logging"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// ErrEmptyResponse is returned when the model produced no text, for example
// because the prompt was blocked.
var ErrEmptyResponse = errors.New("gemini returned no text")

// Config configures a Client.
type Config struct {
	APIKey string

	// Model defaults to DefaultModel. A "models/" prefix is optional.
	Model string

	// Timeout bounds each generate call. Zero means no per-call timeout.
	Timeout time.Duration

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger

	// ClientOptions are appended after the API key option.
	ClientOptions []option.ClientOption
}

// Client generates text with the Gemini generateContent endpoint. Calls go
// through a circuit breaker so a failing upstream is not hammered.
type Client struct {
	models  *generativelanguage.ModelsService
	model   string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	model := strings.TrimPrefix(cfg.Model, "models/")
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithService(logger, instrumentation.ServiceGemini)

	opts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.ClientOptions...)
	svc, err := generativelanguage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini service: %w", err)
	}

	return &Client{
		models:  svc.Models,
		model:   model,
		timeout: cfg.Timeout,
		cb:      gobreaker.NewCircuitBreaker(breakerSettings(logger)),
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

func breakerSettings(logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "gemini-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: countsAsSuccess,
	}
}

// countsAsSuccess reports whether err should leave the breaker untouched.
// Caller cancellation and client-side API errors say nothing about upstream health.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// BreakerState returns the circuit breaker state ("closed", "half-open" or "open").
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// GenerateText sends prompt as a single user turn and returns the text of
// the first candidate.
func (c *Client) GenerateText(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGemini, instrumentation.OperationGenerate,
		instrumentation.ModelAttr(c.model))
	defer span.End()

	start := time.Now()
	defer func() {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGemini, instrumentation.OperationGenerate, status, time.Since(start))
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Debug("gemini call rejected by circuit breaker", logging.Err(err))
			return "", fmt.Errorf("gemini unavailable: %w", err)
		}
		return "", err
	}

	return result.(string), nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	req := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{
			{
				Role:  "user",
				Parts: []*generativelanguage.Part{{Text: prompt}},
			},
		},
	}

	resp, err := c.models.GenerateContent("models/"+c.model, req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *generativelanguage.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
