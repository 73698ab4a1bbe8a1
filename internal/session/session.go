package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/inboxdigest/internal/google"
)

// DefaultTTL is how long a session lives without being used.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session is the server-side state of a signed-in user.
type Session struct {
	ID           string          `json:"id"`
	Profile      *google.Profile `json:"profile"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	TokenType    string          `json:"tokenType,omitempty"`
	Expiry       time.Time       `json:"expiry"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastAccess   time.Time       `json:"lastAccess"`
}

// Token returns the stored OAuth token.
func (s *Session) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Expiry:       s.Expiry,
	}
}

// SetToken replaces the stored token. A token without a refresh token keeps
// the previous one, as Google omits it on refresh.
func (s *Session) SetToken(tok *oauth2.Token) {
	if tok == nil {
		return
	}
	s.AccessToken = tok.AccessToken
	s.TokenType = tok.TokenType
	s.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		s.RefreshToken = tok.RefreshToken
	}
}

// Email returns the user's primary email address.
func (s *Session) Email() string {
	if s == nil {
		return ""
	}
	return s.Profile.PrimaryEmail()
}

// Store persists sessions by ID. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error

	// Delete removes a session and reports whether one was removed.
	Delete(ctx context.Context, id string) (bool, error)

	Close() error
}

// LogoutError reports a failure removing a session.
type LogoutError struct {
	SessionID string
	Err       error
}

func (e *LogoutError) Error() string {
	return fmt.Sprintf("logout session %s: %v", e.SessionID, e.Err)
}

func (e *LogoutError) Unwrap() error { return e.Err }
