package digest

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxdigest/internal/batch"
	"github.com/teemow/inboxdigest/internal/gmail"
	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/logging"
)

// Listing limits.
const (
	DefaultMaxResults int64 = 10
	MaxMaxResults     int64 = 500
)

// Values carried by a batch item that could not be summarized.
const (
	FailedSubject = "Error"
	FailedFrom    = "Unknown"
	FailedSummary = "Failed to summarize this email"
)

// Mailbox is the read side of a user's Gmail account.
type Mailbox interface {
	ListMessageIDs(ctx context.Context, query string, maxResults int64) ([]string, error)
	GetMessage(ctx context.Context, messageID string) (*gmailapi.Message, error)
}

// MailboxFactory opens the mailbox authorized by ts.
type MailboxFactory func(ctx context.Context, ts oauth2.TokenSource) (Mailbox, error)

// Generator turns a prompt into text.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Config configures a Service.
type Config struct {
	Mailboxes MailboxFactory
	Generator Generator

	// BatchConcurrency bounds parallel work per request. Values <= 1 mean sequential.
	BatchConcurrency int

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Service lists emails and produces summaries for a signed-in user.
// It holds no per-user state; every call receives the user's token source.
type Service struct {
	mailboxes   MailboxFactory
	generator   Generator
	concurrency int
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Mailboxes == nil {
		return nil, errors.New("mailbox factory is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		mailboxes:   cfg.Mailboxes,
		generator:   cfg.Generator,
		concurrency: cfg.BatchConcurrency,
		logger:      logger,
		metrics:     cfg.Metrics,
	}, nil
}

// ListOptions selects which messages ListEmails returns.
type ListOptions struct {
	MaxResults int64
	Query      string
}

func (o ListOptions) normalized() ListOptions {
	switch {
	case o.MaxResults <= 0:
		o.MaxResults = DefaultMaxResults
	case o.MaxResults > MaxMaxResults:
		o.MaxResults = MaxMaxResults
	}
	return o
}

// SummaryResult is the response for a single-email summary.
type SummaryResult struct {
	EmailID      string `json:"emailId"`
	Subject      string `json:"subject"`
	From         string `json:"from"`
	Summary      string `json:"summary"`
	OriginalBody string `json:"originalBody"`
}

// BatchSummary is one entry of a batch response.
type BatchSummary struct {
	EmailID string `json:"emailId"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Summary string `json:"summary"`
}

// FailedBatchSummary returns the placeholder for an email that could not be summarized.
func FailedBatchSummary(emailID string) BatchSummary {
	return BatchSummary{
		EmailID: emailID,
		Subject: FailedSubject,
		From:    FailedFrom,
		Summary: FailedSummary,
	}
}

func (s *Service) open(ctx context.Context, ts oauth2.TokenSource) (Mailbox, error) {
	mb, err := s.mailboxes(ctx, ts)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	return mb, nil
}

func (s *Service) fetch(ctx context.Context, mb Mailbox, emailID string) (gmail.Email, error) {
	msg, err := mb.GetMessage(ctx, emailID)
	if err != nil {
		return gmail.Email{}, &FetchError{EmailID: emailID, Err: err}
	}
	email := gmail.ParseMessage(msg)
	if email.ID == "" {
		email.ID = emailID
	}
	return email, nil
}

// ListEmails returns previews of the messages matching opts, in the order
// Gmail lists them. Any failed call fails the whole listing.
func (s *Service) ListEmails(ctx context.Context, ts oauth2.TokenSource, opts ListOptions) ([]gmail.EmailPreview, error) {
	opts = opts.normalized()
	logger := logging.WithOperation(s.logger, "list_emails")

	mb, err := s.open(ctx, ts)
	if err != nil {
		return nil, err
	}

	ids, err := mb.ListMessageIDs(ctx, opts.Query, opts.MaxResults)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	outcomes := batch.Process(ctx, ids, s.concurrency, func(ctx context.Context, id string) (gmail.Email, error) {
		return s.fetch(ctx, mb, id)
	})

	previews := make([]gmail.EmailPreview, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			return nil, o.Err
		}
		previews = append(previews, o.Value.Preview())
	}

	logger.Debug("listed emails", "count", len(previews))
	return previews, nil
}

// Summarize produces a detailed summary of one email. The original body is
// returned unmodified next to the summary.
func (s *Service) Summarize(ctx context.Context, ts oauth2.TokenSource, emailID string) (result *SummaryResult, err error) {
	ctx, span := instrumentation.StartSpan(ctx, "digest.summarize", instrumentation.EmailIDAttr(emailID))
	defer span.End()
	defer func() {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		}
		s.metrics.RecordSummary(ctx, instrumentation.SummaryKindSingle, status, instrumentation.UserEmailFromContext(ctx))
	}()

	mb, err := s.open(ctx, ts)
	if err != nil {
		return nil, err
	}

	email, err := s.fetch(ctx, mb, emailID)
	if err != nil {
		return nil, err
	}

	summary, err := s.generator.GenerateText(ctx, SummaryPrompt(email))
	if err != nil {
		return nil, &GenerationError{EmailID: emailID, Err: err}
	}

	return &SummaryResult{
		EmailID:      emailID,
		Subject:      email.Subject,
		From:         email.From,
		Summary:      summary,
		OriginalBody: email.Body,
	}, nil
}

// SummarizeBatch summarizes each email independently. The result has one
// entry per input ID in input order; an email that fails is replaced by
// FailedBatchSummary and logged. Only failing to open the mailbox fails the
// call as a whole.
func (s *Service) SummarizeBatch(ctx context.Context, ts oauth2.TokenSource, emailIDs []string) (summaries []BatchSummary, err error) {
	ctx, span := instrumentation.StartSpan(ctx, "digest.summarize_batch",
		instrumentation.BatchSizeAttr(len(emailIDs)))
	defer span.End()
	defer func() {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		}
		s.metrics.RecordSummary(ctx, instrumentation.SummaryKindBatch, status, instrumentation.UserEmailFromContext(ctx))
	}()

	logger := logging.WithOperation(s.logger, "summarize_batch")

	if len(emailIDs) == 0 {
		return []BatchSummary{}, nil
	}

	mb, err := s.open(ctx, ts)
	if err != nil {
		return nil, err
	}

	outcomes := batch.Process(ctx, emailIDs, s.concurrency, func(ctx context.Context, id string) (BatchSummary, error) {
		email, err := s.fetch(ctx, mb, id)
		if err != nil {
			return BatchSummary{}, err
		}
		summary, err := s.generator.GenerateText(ctx, BatchPrompt(email))
		if err != nil {
			return BatchSummary{}, &GenerationError{EmailID: id, Err: err}
		}
		return BatchSummary{
			EmailID: id,
			Subject: email.Subject,
			From:    email.From,
			Summary: summary,
		}, nil
	})

	summaries = make([]BatchSummary, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			logger.Error("failed to summarize email",
				logging.EmailID(o.ID), "status_code", gmail.StatusCode(o.Err), logging.Err(o.Err))
			instrumentation.AddSpanEvent(span, "item_failed", instrumentation.EmailIDAttr(o.ID))
			s.metrics.RecordBatchItem(ctx, instrumentation.StatusError)
			summaries[i] = FailedBatchSummary(o.ID)
			continue
		}
		s.metrics.RecordBatchItem(ctx, instrumentation.StatusSuccess)
		summaries[i] = o.Value
	}

	tally := batch.Count(outcomes)
	logger.Info("batch summarized",
		"total", tally.Total,
		"successful", tally.Successful,
		"failed", tally.Failed)

	return summaries, nil
}
