package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxdigest/internal/google"
	"github.com/teemow/inboxdigest/internal/instrumentation"
)

type failingStore struct {
	*MemoryStore
	deleteErr error
	saveErr   error
}

func (f *failingStore) Delete(ctx context.Context, id string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	return f.MemoryStore.Delete(ctx, id)
}

func (f *failingStore) Save(ctx context.Context, s *Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStore.Save(ctx, s)
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	if store == nil {
		mem := NewMemoryStore(time.Hour, nil, nil)
		t.Cleanup(func() { mem.Close() })
		store = mem
	}
	m, err := NewManager(ManagerConfig{Store: store, Secret: "test-secret"})
	require.NoError(t, err)
	return m
}

func testIdentity() *google.Identity {
	return &google.Identity{
		Profile: &google.Profile{
			Provider:    google.ProviderName,
			ID:          "1234",
			DisplayName: "Ada Lovelace",
			Emails:      []google.ProfileEmail{{Value: "ada@example.com", Verified: true}},
		},
		Token: &oauth2.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
}

// withCookies copies the Set-Cookie headers of rec into a new request.
func withCookies(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(c)
		}
	}
	return r
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(ManagerConfig{Secret: "x"})
	assert.EqualError(t, err, "session store is required")

	_, err = NewManager(ManagerConfig{Store: NewMemoryStore(time.Hour, nil, nil)})
	assert.EqualError(t, err, "session secret is required")
}

func TestManager_CreateAndLoad(t *testing.T) {
	m := newTestManager(t, nil)

	rec := httptest.NewRecorder()
	sess, err := m.Create(context.Background(), rec, testIdentity())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "ada@example.com", sess.Email())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.True(t, strings.HasPrefix(c.Value, sess.ID+"."))

	loaded, err := m.Load(withCookies(rec))
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "access-1", loaded.AccessToken)
	assert.Equal(t, "refresh-1", loaded.RefreshToken)
}

func TestManager_Load_Rejects(t *testing.T) {
	m := newTestManager(t, nil)
	rec := httptest.NewRecorder()
	sess, err := m.Create(context.Background(), rec, testIdentity())
	require.NoError(t, err)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "unsigned", cookie: &http.Cookie{Name: CookieName, Value: sess.ID}},
		{name: "forged signature", cookie: &http.Cookie{Name: CookieName, Value: sess.ID + ".bogus"}},
		{name: "signed with other secret", cookie: &http.Cookie{Name: CookieName, Value: signer{key: []byte("other")}.sign(sess.ID)}},
		{name: "unknown session", cookie: &http.Cookie{Name: CookieName, Value: m.signer.sign("unknown")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}
			_, err := m.Load(r)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestManager_Destroy(t *testing.T) {
	m := newTestManager(t, nil)
	rec := httptest.NewRecorder()
	_, err := m.Create(context.Background(), rec, testIdentity())
	require.NoError(t, err)
	req := withCookies(rec)

	out := httptest.NewRecorder()
	require.NoError(t, m.Destroy(out, req))

	cleared := out.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, CookieName, cleared[0].Name)
	assert.Less(t, cleared[0].MaxAge, 0)

	_, err = m.Load(req)
	assert.ErrorIs(t, err, ErrNotFound)
}

// newGaugeMetrics returns metrics backed by a manual reader and a function
// reading the current active_sessions value.
func newGaugeMetrics(t *testing.T) (*instrumentation.Metrics, func() int64) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := instrumentation.NewMetrics(provider.Meter("session-test"), false)
	require.NoError(t, err)

	return metrics, func() int64 {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "active_sessions" {
					continue
				}
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				return total
			}
		}
		return 0
	}
}

func TestManager_ActiveSessions_RepeatedLogout(t *testing.T) {
	metrics, active := newGaugeMetrics(t)
	mem := NewMemoryStore(time.Hour, nil, nil)
	defer mem.Close()
	m, err := NewManager(ManagerConfig{Store: mem, Secret: "test-secret", Metrics: metrics})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	_, err = m.Create(context.Background(), rec, testIdentity())
	require.NoError(t, err)
	assert.Equal(t, int64(1), active())

	for range 3 {
		require.NoError(t, m.Destroy(httptest.NewRecorder(), withCookies(rec)))
	}
	assert.Equal(t, int64(0), active())
}

func TestManager_ActiveSessions_Expiry(t *testing.T) {
	metrics, active := newGaugeMetrics(t)
	mem := NewMemoryStore(time.Hour, nil, func(n int) {
		for range n {
			metrics.DecrementActiveSessions(context.Background())
		}
	})
	defer mem.Close()
	now := time.Now()
	mem.now = func() time.Time { return now }

	m, err := NewManager(ManagerConfig{Store: mem, Secret: "test-secret", Metrics: metrics})
	require.NoError(t, err)

	first := httptest.NewRecorder()
	_, err = m.Create(context.Background(), first, testIdentity())
	require.NoError(t, err)
	second := httptest.NewRecorder()
	_, err = m.Create(context.Background(), second, testIdentity())
	require.NoError(t, err)
	assert.Equal(t, int64(2), active())

	now = now.Add(2 * time.Hour)

	// Found idle on read.
	_, err = m.Load(withCookies(first))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), active())

	// Removed by the sweep.
	assert.Equal(t, 1, mem.sweep())
	assert.Equal(t, int64(0), active())

	// Logging out of an expired session changes nothing.
	require.NoError(t, m.Destroy(httptest.NewRecorder(), withCookies(first)))
	require.NoError(t, m.Destroy(httptest.NewRecorder(), withCookies(second)))
	assert.Equal(t, int64(0), active())
}

func TestManager_Destroy_NoCookie(t *testing.T) {
	m := newTestManager(t, nil)
	assert.NoError(t, m.Destroy(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestManager_Destroy_StoreFailure(t *testing.T) {
	mem := NewMemoryStore(time.Hour, nil, nil)
	defer mem.Close()
	store := &failingStore{MemoryStore: mem, deleteErr: errors.New("connection refused")}
	m := newTestManager(t, store)

	rec := httptest.NewRecorder()
	sess, err := m.Create(context.Background(), rec, testIdentity())
	require.NoError(t, err)

	out := httptest.NewRecorder()
	err = m.Destroy(out, withCookies(rec))

	var logoutErr *LogoutError
	require.ErrorAs(t, err, &logoutErr)
	assert.Equal(t, sess.ID, logoutErr.SessionID)
	assert.Empty(t, out.Result().Cookies(), "cookie must stay when logout fails")
}

func TestManager_State(t *testing.T) {
	m := newTestManager(t, nil)

	rec := httptest.NewRecorder()
	state, err := m.NewState(rec)
	require.NoError(t, err)
	assert.NotEmpty(t, state)

	t.Run("matching state", func(t *testing.T) {
		assert.True(t, m.VerifyState(httptest.NewRecorder(), withCookies(rec), state))
	})

	t.Run("mismatched state", func(t *testing.T) {
		assert.False(t, m.VerifyState(httptest.NewRecorder(), withCookies(rec), "other"))
	})

	t.Run("empty state", func(t *testing.T) {
		assert.False(t, m.VerifyState(httptest.NewRecorder(), withCookies(rec), ""))
	})

	t.Run("missing cookie", func(t *testing.T) {
		assert.False(t, m.VerifyState(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), state))
	})

	t.Run("cookie is cleared", func(t *testing.T) {
		out := httptest.NewRecorder()
		m.VerifyState(out, withCookies(rec), state)
		cookies := out.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, StateCookieName, cookies[0].Name)
		assert.Less(t, cookies[0].MaxAge, 0)
	})
}

func TestManager_SecureCookies(t *testing.T) {
	mem := NewMemoryStore(time.Hour, nil, nil)
	defer mem.Close()
	m, err := NewManager(ManagerConfig{Store: mem, Secret: "s", Secure: true})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	_, err = m.NewState(rec)
	require.NoError(t, err)
	assert.True(t, rec.Result().Cookies()[0].Secure)
}

func TestSession_SetToken_KeepsRefreshToken(t *testing.T) {
	s := &Session{RefreshToken: "keep"}
	s.SetToken(&oauth2.Token{AccessToken: "new"})
	assert.Equal(t, "new", s.AccessToken)
	assert.Equal(t, "keep", s.RefreshToken)

	s.SetToken(nil)
	assert.Equal(t, "new", s.AccessToken)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	_, ok := FromContext(ctx)
	assert.False(t, ok)
	_, ok = TokenSourceFromContext(ctx)
	assert.False(t, ok)

	sess := &Session{ID: "abc"}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"})
	ctx = WithTokenSource(NewContext(ctx, sess), ts)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", got.ID)
	gotTS, ok := TokenSourceFromContext(ctx)
	require.True(t, ok)
	tok, err := gotTS.Token()
	require.NoError(t, err)
	assert.Equal(t, "t", tok.AccessToken)
}
