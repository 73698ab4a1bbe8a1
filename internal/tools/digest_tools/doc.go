// Package digest_tools exposes email listing and summarization as MCP tools.
//
// The tools are served on /mcp behind the same session cookie as the JSON
// API, so every call acts for the signed-in user:
//   - gmail_list_emails: recent messages with a body preview
//   - gmail_summarize_email: detailed summary of one message
//   - gmail_summarize_batch: short summaries of several messages
package digest_tools
