package gmail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/inboxdigest/internal/instrumentation"
)

const (
	// userID addresses the mailbox of the authenticated user.
	userID = "me"

	// maxPageSize is the largest page the Gmail list endpoint accepts.
	maxPageSize = 500
)

// Client wraps the Gmail Users service for a single signed-in user.
type Client struct {
	svc     *gmail.UsersService
	metrics *instrumentation.Metrics
}

// NewClient creates a Gmail client that authorizes requests with ts.
// Additional options (endpoint, HTTP client) are applied after the token source.
func NewClient(ctx context.Context, ts oauth2.TokenSource, metrics *instrumentation.Metrics, opts ...option.ClientOption) (*Client, error) {
	if ts == nil {
		return nil, errors.New("token source is required")
	}

	clientOpts := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{
		svc:     svc.Users,
		metrics: metrics,
	}, nil
}

// ListMessageIDs lists up to maxResults message IDs matching query, newest first.
// It pages through results if maxResults exceeds a single page.
func (c *Client) ListMessageIDs(ctx context.Context, query string, maxResults int64) (ids []string, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationList)
	defer span.End()
	defer c.record(ctx, instrumentation.OperationList, time.Now(), &err)

	pageToken := ""
	for {
		remaining := maxResults - int64(len(ids))
		if remaining <= 0 {
			break
		}

		pageSize := remaining
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}

		req := c.svc.Messages.List(userID).MaxResults(pageSize).Context(ctx)
		if query != "" {
			req = req.Q(query)
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		res, err := req.Do()
		if err != nil {
			instrumentation.SetSpanError(span, err)
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, m := range res.Messages {
			if m != nil && m.Id != "" {
				ids = append(ids, m.Id)
			}
		}

		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}

	if int64(len(ids)) > maxResults {
		ids = ids[:maxResults]
	}

	instrumentation.SetSpanSuccess(span)
	return ids, nil
}

// GetMessage retrieves a full Gmail message.
func (c *Client) GetMessage(ctx context.Context, messageID string) (msg *gmail.Message, err error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, instrumentation.OperationGet,
		instrumentation.EmailIDAttr(messageID))
	defer span.End()
	defer c.record(ctx, instrumentation.OperationGet, time.Now(), &err)

	if messageID == "" {
		return nil, errors.New("messageID is required")
	}

	msg, err = c.svc.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}

	instrumentation.SetSpanSuccess(span)
	return msg, nil
}

func (c *Client) record(ctx context.Context, operation string, start time.Time, errp *error) {
	status := instrumentation.StatusSuccess
	if *errp != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, time.Since(start))
}

// StatusCode returns the HTTP status reported by the Gmail API for err,
// or 0 if err did not come from the API.
func StatusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
