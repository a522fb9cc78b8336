package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTokens is an in-memory TokenStore for tests.
type memTokens struct {
	token   string
	cleared atomic.Int32
}

func (m *memTokens) Token() (string, error) { return m.token, nil }

func (m *memTokens) Clear() error {
	m.token = ""
	m.cleared.Add(1)
	return nil
}

func newTestClient(t *testing.T, serverURL string, tokens TokenStore) *Client {
	t.Helper()
	c := NewClient(serverURL, tokens, nil)
	c.SetRetryPolicy(3, time.Millisecond)
	return c
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch requests.Add(1) {
		case 1, 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"response": "hola"}`))
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	var result struct {
		Response string `json:"response"`
	}
	err := client.Get(context.Background(), "/api/chat", &result)

	require.NoError(t, err)
	assert.Equal(t, "hola", result.Response)
	assert.Equal(t, int32(3), requests.Load(), "two retries then success")
}

func TestClientRetryBudgetExhausted(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	client.SetRetryPolicy(2, time.Millisecond)

	err := client.Get(context.Background(), "/api/chat", nil)

	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected *APIError, got %T", err)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, int32(3), requests.Load(), "initial attempt plus maxRetries")
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail": "mensaje vacío"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	err := client.Post(context.Background(), "/api/chat", map[string]string{"message": ""}, nil)

	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "mensaje vacío", apiErr.Message)
	assert.Equal(t, int32(1), requests.Load(), "4xx must not be retried")
}

func TestClientAttachesBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tokens := &memTokens{token: "tok-123"}
	client := newTestClient(t, server.URL, tokens)

	require.NoError(t, client.Get(context.Background(), "/api/auth/me", nil))
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestClientUnauthorizedOnProtectedPath(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &memTokens{token: "stale"}
	client := newTestClient(t, server.URL, tokens)

	var hookCalls atomic.Int32
	client.SetAuthExpiredHandler(func() { hookCalls.Add(1) })

	err := client.Get(context.Background(), "/api/chat", nil)

	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, int32(1), requests.Load(), "401 must not be retried")
	assert.Equal(t, int32(1), tokens.cleared.Load(), "credential cleared exactly once")
	assert.Equal(t, int32(1), hookCalls.Load(), "hook fired exactly once")
	assert.Empty(t, tokens.token)
}

func TestClientUnauthorizedOnAuthPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "credenciales inválidas"}`))
	}))
	defer server.Close()

	tokens := &memTokens{token: "tok"}
	client := newTestClient(t, server.URL, tokens)

	var hookCalls atomic.Int32
	client.SetAuthExpiredHandler(func() { hookCalls.Add(1) })

	err := client.Get(context.Background(), "/api/auth/me", nil)

	require.Error(t, err)
	assert.False(t, IsAuthError(err), "auth endpoints report a plain error")
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "tok", tokens.token, "credential untouched")
	assert.Equal(t, int32(0), tokens.cleared.Load())
	assert.Equal(t, int32(0), hookCalls.Load())
}

func TestClientContextCancelsBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	client.SetRetryPolicy(3, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Get(ctx, "/api/chat", nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second, "backoff wait must abort with the context")
}

func TestIsProtectedPath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/api/chat", true},
		{"/api/chat/stream?message=hola", true},
		{"/api/upload/status/abc", true},
		{"/api/auth/me", false},
		{"/api/auth/logout", false},
		{"/health", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, isProtectedPath(tc.path))
		})
	}
}

func TestNormalizeErrorShapes(t *testing.T) {
	t.Run("detail field", func(t *testing.T) {
		err := normalizeError(500, []byte(`{"detail": "fallo interno"}`))
		assert.Equal(t, "fallo interno", err.Message)
		assert.Equal(t, 500, err.Status)
	})

	t.Run("message field", func(t *testing.T) {
		err := normalizeError(502, []byte(`{"message": "bad gateway"}`))
		assert.Equal(t, "bad gateway", err.Message)
	})

	t.Run("non-JSON body keeps raw data", func(t *testing.T) {
		err := normalizeError(500, []byte("boom"))
		assert.Equal(t, 500, err.Status)
		assert.NotEmpty(t, err.Message)
	})
}
