package google

import (
	gmail "google.golang.org/api/gmail/v1"
)

// DefaultOAuthScopes are the scopes requested at sign-in: the basic profile
// and email address for the session, and read-only Gmail access for
// listing and summarizing messages.
var DefaultOAuthScopes = []string{
	"profile",
	"email",
	gmail.GmailReadonlyScope,
}
