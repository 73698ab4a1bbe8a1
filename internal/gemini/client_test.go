package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const generatePath = "/v1beta/models/gemini-2.0-flash:generateContent"

func newTestClient(t *testing.T, timeout time.Duration, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{
		APIKey:        "test-key",
		Timeout:       timeout,
		ClientOptions: []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	})
	require.NoError(t, err)
	return c
}

func respondText(w http.ResponseWriter, parts ...string) {
	content := &generativelanguage.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &generativelanguage.Part{Text: p})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&generativelanguage.GenerateContentResponse{
		Candidates: []*generativelanguage.Candidate{{Content: content}},
	})
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")

	c, err := NewClient(context.Background(), Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, "closed", c.BreakerState())

	c, err = NewClient(context.Background(), Config{APIKey: "k", Model: "models/gemini-1.5-pro"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", c.Model())
}

func TestClient_GenerateText(t *testing.T) {
	var got generativelanguage.GenerateContentRequest
	c := newTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, generatePath, r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respondText(w, "Summary: ", "all good.")
	})

	text, err := c.GenerateText(context.Background(), "Summarize this")
	require.NoError(t, err)

	assert.Equal(t, "Summary: all good.", text)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, "user", got.Contents[0].Role)
	require.Len(t, got.Contents[0].Parts, 1)
	assert.Equal(t, "Summarize this", got.Contents[0].Parts[0].Text)
}

func TestClient_GenerateText_EmptyResponse(t *testing.T) {
	c := newTestClient(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	})

	_, err := c.GenerateText(context.Background(), "blocked prompt")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClient_GenerateText_UpstreamError(t *testing.T) {
	c := newTestClient(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"internal"}}`, http.StatusInternalServerError)
	})

	_, err := c.GenerateText(context.Background(), "prompt")
	require.Error(t, err)

	var apiErr *googleapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Code)
}

func TestClient_GenerateText_Timeout(t *testing.T) {
	c := newTestClient(t, 50*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		respondText(w, "too late")
	})

	_, err := c.GenerateText(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"code":503,"message":"unavailable"}}`, http.StatusServiceUnavailable)
	})

	// Six consecutive failures trip the breaker.
	for i := 0; i < 6; i++ {
		_, err := c.GenerateText(context.Background(), "prompt")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.GenerateText(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "gemini unavailable")
	assert.Equal(t, int32(6), calls.Load(), "open breaker must not reach upstream")
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":400,"message":"bad request"}}`, http.StatusBadRequest)
	})

	for i := 0; i < 10; i++ {
		_, err := c.GenerateText(context.Background(), "prompt")
		require.Error(t, err)
	}
	assert.Equal(t, "closed", c.BreakerState())
}

func TestCountsAsSuccess(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: true},
		{name: "canceled", err: context.Canceled, want: true},
		{name: "empty response", err: ErrEmptyResponse, want: true},
		{name: "not found", err: &googleapi.Error{Code: http.StatusNotFound}, want: true},
		{name: "rate limited", err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: false},
		{name: "server error", err: &googleapi.Error{Code: http.StatusBadGateway}, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "other", err: errors.New("connection reset"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countsAsSuccess(tt.err); got != tt.want {
				t.Errorf("countsAsSuccess(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "", responseText(nil))
	assert.Equal(t, "", responseText(&generativelanguage.GenerateContentResponse{}))
	assert.Equal(t, "", responseText(&generativelanguage.GenerateContentResponse{
		Candidates: []*generativelanguage.Candidate{{FinishReason: "SAFETY"}},
	}))
	assert.Equal(t, "ab", responseText(&generativelanguage.GenerateContentResponse{
		Candidates: []*generativelanguage.Candidate{
			{Content: &generativelanguage.Content{Parts: []*generativelanguage.Part{{Text: "a"}, nil, {Text: "b"}}}},
			{Content: &generativelanguage.Content{Parts: []*generativelanguage.Part{{Text: "ignored"}}}},
		},
	}))
}
