package digest

import "fmt"

// FetchError reports a failure reading from the mailbox.
type FetchError struct {
	// EmailID is empty for list operations.
	EmailID string
	Err     error
}

func (e *FetchError) Error() string {
	if e.EmailID == "" {
		return fmt.Sprintf("fetch emails: %v", e.Err)
	}
	return fmt.Sprintf("fetch email %s: %v", e.EmailID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// GenerationError reports a failure producing a summary.
type GenerationError struct {
	EmailID string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("summarize email %s: %v", e.EmailID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
