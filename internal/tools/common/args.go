package common

import (
	"github.com/teemow/inboxdigest/internal/batch"
)

// CountEmailIDs returns how many emails a tool call addresses: the length of
// a valid "emailIds" argument, 1 for "emailId", else 0.
func CountEmailIDs(args map[string]any) int {
	if raw, ok := args["emailIds"]; ok {
		ids, err := batch.ParseStringOrArray(raw, "emailIds")
		if err != nil {
			return 0
		}
		return len(ids)
	}
	if id, ok := args["emailId"].(string); ok && id != "" {
		return 1
	}
	return 0
}
