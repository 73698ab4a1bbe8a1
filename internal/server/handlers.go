package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/teemow/inboxdigest/internal/digest"
	"github.com/teemow/inboxdigest/internal/gmail"
	"github.com/teemow/inboxdigest/internal/google"
	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/logging"
	"github.com/teemow/inboxdigest/internal/session"
)

// Client-facing error messages. Upstream detail is only logged.
const (
	msgAuthRequired         = "Authentication required"
	msgFetchFailed          = "Failed to fetch emails"
	msgSummarizeFailed      = "Failed to summarize email"
	msgSummarizeBatchFailed = "Failed to summarize emails"
	msgLogoutFailed         = "Logout failed"
	msgEmailIDRequired      = "emailId is required"
	msgEmailIDsInvalid      = "emailIds must be an array of strings"
	msgNotFound             = "Not found"
	msgMethodNotAllowed     = "Method not allowed"
)

const maxRequestBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(v)
}

func (s *HTTPServer) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogin starts the OAuth flow.
func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := s.sc.Sessions().NewState(w)
	if err != nil {
		s.sc.Logger().Error("failed to start sign-in", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to start authentication")
		return
	}
	http.Redirect(w, r, s.sc.Authenticator().AuthCodeURL(state), http.StatusFound)
}

// handleCallback completes the OAuth flow. Every outcome redirects home;
// only success leaves a session cookie behind.
func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.WithOperation(s.sc.Logger(), "oauth_callback")
	audit := s.sc.AuditLogger()
	q := r.URL.Query()

	if !s.sc.Sessions().VerifyState(w, r, q.Get("state")) {
		logger.Warn("oauth state mismatch")
		audit.LogAuthEvent(ctx, instrumentation.AuthEventLoginFailed, "", errors.New("state mismatch"))
		s.redirectHome(w, r)
		return
	}

	if providerErr := q.Get("error"); providerErr != "" {
		logger.Warn("authorization denied", "reason", providerErr)
		audit.LogAuthEvent(ctx, instrumentation.AuthEventLoginFailed, "", errors.New(providerErr))
		s.redirectHome(w, r)
		return
	}

	identity, err := s.sc.Authenticator().Authenticate(ctx, q.Get("code"))
	if err != nil {
		logger.Error("authentication failed", logging.Err(err))
		audit.LogAuthEvent(ctx, instrumentation.AuthEventLoginFailed, "", err)
		s.redirectHome(w, r)
		return
	}

	sess, err := s.sc.Sessions().Create(ctx, w, identity)
	if err != nil {
		logger.Error("failed to create session", logging.Err(err))
		audit.LogAuthEvent(ctx, instrumentation.AuthEventLoginFailed, identity.Profile.PrimaryEmail(), err)
		s.redirectHome(w, r)
		return
	}

	logger.Info("user authenticated",
		"display_name", identity.Profile.DisplayName,
		logging.UserHash(sess.Email()))
	audit.LogAuthEvent(ctx, instrumentation.AuthEventLogin, sess.Email(), nil)
	s.redirectHome(w, r)
}

// handleLogout destroys the session.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var email string
	if sess, err := s.sc.Sessions().Load(r); err == nil {
		email = sess.Email()
	}

	if err := s.sc.Sessions().Destroy(w, r); err != nil {
		var logoutErr *session.LogoutError
		if errors.As(err, &logoutErr) {
			s.sc.Logger().Error("logout failed", logging.Err(logoutErr.Err))
		} else {
			s.sc.Logger().Error("logout failed", logging.Err(err))
		}
		writeError(w, http.StatusInternalServerError, msgLogoutFailed)
		return
	}

	if email != "" {
		s.sc.AuditLogger().LogAuthEvent(r.Context(), instrumentation.AuthEventLogout, email, nil)
	}
	s.redirectHome(w, r)
}

type userResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          *google.Profile `json:"user,omitempty"`
}

// handleUser reports whether the caller is signed in.
func (s *HTTPServer) handleUser(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sc.Sessions().Load(r)
	if err != nil {
		writeJSON(w, http.StatusOK, userResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Authenticated: true, User: sess.Profile})
}

type emailsResponse struct {
	Emails []gmail.EmailPreview `json:"emails"`
}

// handleListEmails returns previews of recent emails.
func (s *HTTPServer) handleListEmails(w http.ResponseWriter, r *http.Request) {
	ts, _ := session.TokenSourceFromContext(r.Context())

	q := r.URL.Query()
	opts := digest.ListOptions{Query: q.Get("query")}
	if n, err := strconv.ParseInt(q.Get("maxResults"), 10, 64); err == nil {
		opts.MaxResults = n
	}

	emails, err := s.sc.Digest().ListEmails(r.Context(), ts, opts)
	if err != nil {
		s.sc.Logger().Error("failed to fetch emails", logging.Err(err))
		writeError(w, http.StatusInternalServerError, msgFetchFailed)
		return
	}

	writeJSON(w, http.StatusOK, emailsResponse{Emails: emails})
}

type summarizeRequest struct {
	EmailID string `json:"emailId"`
}

// handleSummarize summarizes one email.
func (s *HTTPServer) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decodeJSON(w, r, &req); err != nil || req.EmailID == "" {
		writeError(w, http.StatusBadRequest, msgEmailIDRequired)
		return
	}

	ts, _ := session.TokenSourceFromContext(r.Context())
	result, err := s.sc.Digest().Summarize(r.Context(), ts, req.EmailID)
	if err != nil {
		s.sc.Logger().Error("failed to summarize email", logging.EmailID(req.EmailID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, msgSummarizeFailed)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type summarizeBatchRequest struct {
	EmailIDs json.RawMessage `json:"emailIds"`
}

type summarizeBatchResponse struct {
	Summaries []digest.BatchSummary `json:"summaries"`
}

// parseEmailIDs accepts only a JSON array of strings.
func parseEmailIDs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("emailIds is required")
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// handleSummarizeBatch summarizes several emails. Individual failures are
// reported in place; only a malformed request or an unusable mailbox fail
// the request.
func (s *HTTPServer) handleSummarizeBatch(w http.ResponseWriter, r *http.Request) {
	var req summarizeBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgEmailIDsInvalid)
		return
	}
	ids, err := parseEmailIDs(req.EmailIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgEmailIDsInvalid)
		return
	}

	ts, _ := session.TokenSourceFromContext(r.Context())
	summaries, err := s.sc.Digest().SummarizeBatch(r.Context(), ts, ids)
	if err != nil {
		s.sc.Logger().Error("failed to summarize emails", logging.Err(err))
		writeError(w, http.StatusInternalServerError, msgSummarizeBatchFailed)
		return
	}

	writeJSON(w, http.StatusOK, summarizeBatchResponse{Summaries: summaries})
}

func (s *HTTPServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxRequestBodyBytes))
	writeError(w, http.StatusNotFound, msgNotFound)
}

func (s *HTTPServer) handleMethodNotAllowed(allowed string) http.HandlerFunc {
	if allowed == http.MethodGet {
		allowed += ", " + http.MethodHead
	}
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxRequestBodyBytes))
		w.Header().Set("Allow", allowed)
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	}
}
