// Package google implements the Google sign-in flow for browser sessions.
//
// Authenticator wraps an oauth2.Config for the authorization-code flow. Consent
// URLs always request offline access and force the consent screen so Google
// issues a refresh token on every sign-in, including repeat logins. After the
// code exchange the user's profile is read from the userinfo endpoint and
// returned together with the token as an Identity.
package google
