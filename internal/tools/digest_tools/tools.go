package digest_tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxdigest/internal/batch"
	"github.com/teemow/inboxdigest/internal/digest"
	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/logging"
	"github.com/teemow/inboxdigest/internal/server"
	"github.com/teemow/inboxdigest/internal/session"
	"github.com/teemow/inboxdigest/internal/tools/common"
)

// Tool names.
const (
	ToolListEmails     = "gmail_list_emails"
	ToolSummarizeEmail = "gmail_summarize_email"
	ToolSummarizeBatch = "gmail_summarize_batch"
)

const notSignedIn = "Authentication required: sign in with Google at /api/auth/google first"

// RegisterDigestTools registers the email listing and summarization tools.
// They act on behalf of the user whose session authenticated the MCP request.
func RegisterDigestTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	listEmailsTool := mcp.NewTool(ToolListEmails,
		mcp.WithDescription("List recent Gmail messages with subject, sender, date and a body preview"),
		mcp.WithString("query",
			mcp.Description("Gmail search query (e.g., 'is:unread', 'from:user@example.com')"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description(fmt.Sprintf("Maximum number of emails to return (default: %d, max: %d)", digest.DefaultMaxResults, digest.MaxMaxResults)),
		),
	)
	s.AddTool(listEmailsTool, common.InstrumentedToolHandlerWithService(
		ToolListEmails, instrumentation.ServiceGmail, instrumentation.OperationList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListEmails(ctx, request, sc)
		}))

	summarizeEmailTool := mcp.NewTool(ToolSummarizeEmail,
		mcp.WithDescription("Produce a detailed AI summary of one email: key points, dates, tone and follow-ups"),
		mcp.WithString("emailId",
			mcp.Required(),
			mcp.Description("Gmail message ID"),
		),
	)
	s.AddTool(summarizeEmailTool, common.InstrumentedToolHandlerWithService(
		ToolSummarizeEmail, instrumentation.ServiceGemini, instrumentation.OperationGenerate, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSummarizeEmail(ctx, request, sc)
		}))

	summarizeBatchTool := mcp.NewTool(ToolSummarizeBatch,
		mcp.WithDescription("Produce short AI summaries of several emails. Emails that fail are reported in place and do not fail the call"),
		mcp.WithString("emailIds",
			mcp.Required(),
			mcp.Description("Gmail message ID (string) or array of message IDs"),
		),
	)
	s.AddTool(summarizeBatchTool, common.InstrumentedToolHandlerWithService(
		ToolSummarizeBatch, instrumentation.ServiceGemini, instrumentation.OperationGenerate, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSummarizeBatch(ctx, request, sc)
		}))

	return nil
}

func tokenSource(ctx context.Context) (oauth2.TokenSource, *mcp.CallToolResult) {
	ts, ok := session.TokenSourceFromContext(ctx)
	if !ok {
		return nil, mcp.NewToolResultError(notSignedIn)
	}
	return ts, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleListEmails(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	ts, denied := tokenSource(ctx)
	if denied != nil {
		return denied, nil
	}

	args := request.GetArguments()
	opts := digest.ListOptions{}
	if query, ok := args["query"].(string); ok {
		opts.Query = query
	}
	if maxVal, ok := args["maxResults"].(float64); ok {
		opts.MaxResults = int64(maxVal)
	}

	emails, err := sc.Digest().ListEmails(ctx, ts, opts)
	if err != nil {
		logging.WithTool(sc.Logger(), ToolListEmails).Error("failed to fetch emails", logging.Err(err))
		return mcp.NewToolResultError("Failed to fetch emails"), nil
	}

	return jsonResult(map[string]any{"emails": emails})
}

func handleSummarizeEmail(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	ts, denied := tokenSource(ctx)
	if denied != nil {
		return denied, nil
	}

	emailID, ok := request.GetArguments()["emailId"].(string)
	if !ok || emailID == "" {
		return mcp.NewToolResultError("emailId is required"), nil
	}

	result, err := sc.Digest().Summarize(ctx, ts, emailID)
	if err != nil {
		logging.WithTool(sc.Logger(), ToolSummarizeEmail).Error("failed to summarize email", logging.EmailID(emailID), logging.Err(err))
		return mcp.NewToolResultError("Failed to summarize email"), nil
	}

	return jsonResult(result)
}

func handleSummarizeBatch(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	ts, denied := tokenSource(ctx)
	if denied != nil {
		return denied, nil
	}

	emailIDs, err := batch.ParseStringOrArray(request.GetArguments()["emailIds"], "emailIds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	summaries, err := sc.Digest().SummarizeBatch(ctx, ts, emailIDs)
	if err != nil {
		logging.WithTool(sc.Logger(), ToolSummarizeBatch).Error("failed to summarize emails", logging.Err(err))
		return mcp.NewToolResultError("Failed to summarize emails"), nil
	}

	return jsonResult(map[string]any{"summaries": summaries})
}
