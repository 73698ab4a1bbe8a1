package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxdigest/internal/google"
	"github.com/teemow/inboxdigest/internal/instrumentation"
)

// Cookie names.
const (
	CookieName      = "inboxdigest_session"
	StateCookieName = "inboxdigest_oauth_state"
)

const stateTTL = 10 * time.Minute

// TokenRefresher builds a refreshing token source from a stored token.
type TokenRefresher interface {
	TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store  Store
	Secret string

	// Secure marks cookies as HTTPS-only.
	Secure bool

	// TTL is the cookie lifetime. Defaults to DefaultTTL.
	TTL time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Manager maps signed browser cookies to stored sessions.
type Manager struct {
	store   Store
	signer  signer
	secure  bool
	ttl     time.Duration
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("session secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:   cfg.Store,
		signer:  signer{key: []byte(cfg.Secret)},
		secure:  cfg.Secure,
		ttl:     ttl,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

func (m *Manager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Create stores a new session for id and sets the session cookie.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, id *google.Identity) (*Session, error) {
	if id == nil || id.Token == nil {
		return nil, errors.New("identity with token is required")
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		Profile:    id.Profile,
		CreatedAt:  now,
		LastAccess: now,
	}
	sess.SetToken(id.Token)

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	m.metrics.IncrementActiveSessions(ctx)

	http.SetCookie(w, m.cookie(CookieName, m.signer.sign(sess.ID), int(m.ttl/time.Second)))
	return sess, nil
}

// Load returns the session referenced by the request cookie. It returns
// ErrNotFound for a missing, forged or expired cookie.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrNotFound
	}
	id, err := m.signer.verify(c.Value)
	if err != nil {
		return nil, ErrNotFound
	}
	return m.store.Get(r.Context(), id)
}

// Update persists changes to sess.
func (m *Manager) Update(ctx context.Context, sess *Session) error {
	return m.store.Save(ctx, sess)
}

// Destroy deletes the request's session and clears the cookie. A store
// failure is returned as a *LogoutError and leaves the cookie in place.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}

	if id, err := m.signer.verify(c.Value); err == nil {
		removed, err := m.store.Delete(r.Context(), id)
		if err != nil {
			return &LogoutError{SessionID: id, Err: err}
		}
		if removed {
			m.metrics.DecrementActiveSessions(r.Context())
		}
	}

	http.SetCookie(w, m.cookie(CookieName, "", -1))
	return nil
}

// NewState generates an OAuth state value and stores it in a short-lived
// signed cookie.
func (m *Manager) NewState(w http.ResponseWriter) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	http.SetCookie(w, m.cookie(StateCookieName, m.signer.sign(state), int(stateTTL/time.Second)))
	return state, nil
}

// VerifyState checks state against the state cookie and clears the cookie.
func (m *Manager) VerifyState(w http.ResponseWriter, r *http.Request, state string) bool {
	c, err := r.Cookie(StateCookieName)
	if err != nil {
		return false
	}
	http.SetCookie(w, m.cookie(StateCookieName, "", -1))

	expected, err := m.signer.verify(c.Value)
	if err != nil || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(state)) == 1
}

// TokenSource returns a token source for sess that refreshes through
// refresher and saves refreshed tokens back to the store.
func (m *Manager) TokenSource(ctx context.Context, refresher TokenRefresher, sess *Session) oauth2.TokenSource {
	return &persistingTokenSource{
		base:    refresher.TokenSource(ctx, sess.Token()),
		sess:    sess,
		save:    m.Update,
		ctx:     ctx,
		logger:  m.logger,
		metrics: m.metrics,
	}
}
