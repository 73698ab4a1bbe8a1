package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxdigest/internal/digest"
	"github.com/teemow/inboxdigest/internal/google"
	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/session"
)

type fakeAuth struct {
	identity *google.Identity
	err      error
	codes    []string
}

func (f *fakeAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + state
}

func (f *fakeAuth) Authenticate(_ context.Context, code string) (*google.Identity, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func (f *fakeAuth) TokenSource(_ context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.StaticTokenSource(tok)
}

type fakeMailbox struct {
	calls    atomic.Int32
	messages map[string]*gmailapi.Message
	ids      []string
	listErr  error
}

func (f *fakeMailbox) ListMessageIDs(_ context.Context, _ string, maxResults int64) ([]string, error) {
	f.calls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := f.ids
	if int64(len(ids)) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, id string) (*gmailapi.Message, error) {
	f.calls.Add(1)
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return msg, nil
}

type fakeGenerator struct {
	calls atomic.Int32
	err   error
}

func (f *fakeGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "summary", nil
}

func (f *fakeGenerator) BreakerState() string { return "closed" }

func testMessage(id, subject string) *gmailapi.Message {
	return &gmailapi.Message{
		Id:      id,
		Snippet: "snippet",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "Subject", Value: subject},
				{Name: "From", Value: "sender@example.com"},
			},
			Body: &gmailapi.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("body of " + id))},
		},
	}
}

type testEnv struct {
	server    *HTTPServer
	handler   http.Handler
	auth      *fakeAuth
	mailbox   *fakeMailbox
	generator *fakeGenerator
	sessions  *session.Manager
	logs      *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	mb := &fakeMailbox{
		ids: []string{"a", "b"},
		messages: map[string]*gmailapi.Message{
			"a": testMessage("a", "Alpha"),
			"b": testMessage("b", "Beta"),
		},
	}
	gen := &fakeGenerator{}

	svc, err := digest.NewService(digest.Config{
		Mailboxes: func(context.Context, oauth2.TokenSource) (digest.Mailbox, error) { return mb, nil },
		Generator: gen,
		Logger:    logger,
	})
	require.NoError(t, err)

	store := session.NewMemoryStore(time.Hour, logger, nil)
	sessions, err := session.NewManager(session.ManagerConfig{Store: store, Secret: "test-secret", Logger: logger})
	require.NoError(t, err)

	auth := &fakeAuth{identity: testIdentity()}
	sc, err := NewServerContext(context.Background(), ServerContextConfig{
		Digest:        svc,
		Sessions:      sessions,
		Authenticator: auth,
		Generator:     gen,
		Logger:        logger,
		AuditLogger:   instrumentation.NewAuditLogger(logger),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	srv, err := NewHTTPServer(sc, HTTPConfig{BaseURL: "http://localhost:9002"})
	require.NoError(t, err)

	return &testEnv{
		server:    srv,
		handler:   srv.Handler(),
		auth:      auth,
		mailbox:   mb,
		generator: gen,
		sessions:  sessions,
		logs:      &logs,
	}
}

func testIdentity() *google.Identity {
	return &google.Identity{
		Profile: &google.Profile{
			Provider:    google.ProviderName,
			ID:          "1234",
			DisplayName: "Ada Lovelace",
			Emails:      []google.ProfileEmail{{Value: "ada@example.com", Verified: true}},
		},
		Token: &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)},
	}
}

// login creates a session and returns its cookie.
func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	_, err := e.sessions.Create(context.Background(), rec, testIdentity())
	require.NoError(t, err)
	return rec.Result().Cookies()[0]
}

func (e *testEnv) do(method, target string, body io.Reader, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

var errUpstream = errors.New("upstream failure")
