// internal/network/client_test.go
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/config"
)

// stubStore is a minimal in-memory SessionStore for client tests.
type stubStore struct {
	mu      sync.Mutex
	session schemas.Session
	getErr  error
}

func (s *stubStore) Get(ctx context.Context) (schemas.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return schemas.Session{}, s.getErr
	}
	return s.session, nil
}

func (s *stubStore) Set(ctx context.Context, session schemas.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.getErr = nil
	return nil
}

func (s *stubStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = schemas.Session{}
	s.getErr = schemas.ErrNoSession
	return nil
}

func storeWithToken(token string) *stubStore {
	return &stubStore{
		session: schemas.Session{
			Token:     schemas.AuthToken{AccessToken: token},
			User:      schemas.User{ID: "123"},
			CreatedAt: time.Now(),
		},
	}
}

func testHTTPConfig(baseURL string) config.HTTPConfig {
	return config.HTTPConfig{
		BaseURL:            baseURL,
		Timeout:            10 * time.Second,
		MaxRetries:         3,
		RetryBaseDelay:     10 * time.Millisecond,
		RetryMaxDelay:      200 * time.Millisecond,
		RetryBackoffFactor: 2.0,
		RetryJitter:        false,
		RetryableStatuses:  []int{408, 429, 500, 502, 503, 504},
		UserAgent:          "fitbridge-test/1.0",
	}
}

func newTestClient(t *testing.T, cfg config.HTTPConfig, store schemas.SessionStore) *Client {
	t.Helper()
	client, err := NewClient(cfg, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()
	store := storeWithToken("abc")
	logger := zaptest.NewLogger(t)

	_, err := NewClient(config.HTTPConfig{}, store, logger)
	require.Error(t, err, "missing base URL must be rejected")

	_, err = NewClient(config.HTTPConfig{BaseURL: "http://a b.example/"}, store, logger)
	require.Error(t, err, "unparseable base URL must be rejected")
}

func TestClientInjectsBearerToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "fitbridge-test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user":{"userId":123}}`)
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), storeWithToken("abc"))

	outcome := client.Get(context.Background(), "/api/user", nil)
	require.True(t, outcome.Success, "outcome error: %v", outcome.Err)
	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.NoError(t, outcome.Err)

	var payload struct {
		User struct {
			UserID int `json:"userId"`
		} `json:"user"`
	}
	require.NoError(t, outcome.DecodeJSON(&payload))
	assert.Equal(t, 123, payload.User.UserID)
}

// A missing session refuses the call locally: 401 outcome, no network traffic.
func TestClientRefusesWithoutSession(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), &stubStore{getErr: schemas.ErrNoSession})

	outcome := client.Get(context.Background(), "/api/workouts", nil)
	assert.False(t, outcome.Success)
	assert.Equal(t, http.StatusUnauthorized, outcome.Status)

	var authErr *AuthNoActiveSessionError
	require.ErrorAs(t, outcome.Err, &authErr)
	assert.ErrorIs(t, outcome.Err, schemas.ErrNoSession)
	assert.Zero(t, hits.Load(), "refused calls must never reach the platform")
}

func TestClientEmptyTokenRefusedLikeNoSession(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), &stubStore{session: schemas.Session{}})

	outcome := client.Get(context.Background(), "/api/user", nil)
	assert.False(t, outcome.Success)
	assert.Equal(t, http.StatusUnauthorized, outcome.Status)

	var authErr *AuthNoActiveSessionError
	assert.ErrorAs(t, outcome.Err, &authErr)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), storeWithToken("abc"))

	start := time.Now()
	outcome := client.Get(context.Background(), "/api/user", nil)
	elapsed := time.Since(start)

	require.True(t, outcome.Success, "outcome error: %v", outcome.Err)
	assert.Equal(t, int64(4), attempts.Load(), "three 503s then success")
	// Delays of 10ms, 20ms and 40ms must actually elapse between attempts.
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}

func TestClientRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"maintenance"}`)
	}))
	defer server.Close()

	cfg := testHTTPConfig(server.URL)
	cfg.MaxRetries = 2
	client := newTestClient(t, cfg, storeWithToken("abc"))

	outcome := client.Get(context.Background(), "/api/user", nil)
	assert.False(t, outcome.Success)
	assert.Equal(t, http.StatusServiceUnavailable, outcome.Status)
	assert.Equal(t, int64(3), attempts.Load(), "initial attempt plus two retries")

	var httpErr *HTTPError
	require.ErrorAs(t, outcome.Err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
}

func TestClientReplaysPostBodyOnRetry(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"workoutId":"w1"}`)
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), storeWithToken("abc"))

	outcome := client.Post(context.Background(), "/api/workouts", map[string]string{"name": "Morning Run"})
	require.True(t, outcome.Success, "outcome error: %v", outcome.Err)
	assert.Equal(t, http.StatusCreated, outcome.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.JSONEq(t, `{"name":"Morning Run"}`, bodies[0])
	assert.Equal(t, bodies[0], bodies[1], "retried attempt must carry the identical body")
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"workout name is invalid"}`)
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), storeWithToken("abc"))

	outcome := client.Get(context.Background(), "/api/workouts", nil)
	assert.False(t, outcome.Success)
	assert.Equal(t, int64(1), attempts.Load())

	var httpErr *HTTPError
	require.ErrorAs(t, outcome.Err, &httpErr)
	assert.Equal(t, http.StatusUnprocessableEntity, httpErr.Status)
	assert.Contains(t, httpErr.Snippet, "workout name is invalid")
}

func TestClientNetworkErrorOutcome(t *testing.T) {
	t.Parallel()

	cfg := testHTTPConfig("http://127.0.0.1:1")
	cfg.MaxRetries = 0
	client := newTestClient(t, cfg, storeWithToken("abc"))

	outcome := client.Get(context.Background(), "/api/user", nil)
	assert.False(t, outcome.Success)
	assert.Zero(t, outcome.Status)

	var netErr *NetworkError
	require.ErrorAs(t, outcome.Err, &netErr)
	assert.Contains(t, netErr.URL, "127.0.0.1:1")
}

func TestClientHonorsRetryAfterDelay(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	cfg := testHTTPConfig(server.URL)
	cfg.MaxRetries = 1
	client := newTestClient(t, cfg, storeWithToken("abc"))

	start := time.Now()
	outcome := client.Get(context.Background(), "/api/user", nil)
	elapsed := time.Since(start)

	require.True(t, outcome.Success, "outcome error: %v", outcome.Err)
	assert.GreaterOrEqual(t, elapsed, 1*time.Second, "server-mandated delay must be respected")
}

func TestClientCookiesRoundTrip(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/first":
			http.SetCookie(w, &http.Cookie{Name: "platform_session", Value: "s-42", Path: "/"})
			fmt.Fprint(w, `{}`)
		case "/second":
			cookie, err := r.Cookie("platform_session")
			if assert.NoError(t, err, "second call should carry the session cookie") {
				assert.Equal(t, "s-42", cookie.Value)
			}
			fmt.Fprint(w, `{}`)
		}
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), storeWithToken("abc"))

	outcome := client.Get(context.Background(), "/first", nil)
	require.True(t, outcome.Success)
	require.Len(t, outcome.Cookies, 1)
	assert.Equal(t, "platform_session", outcome.Cookies[0].Name)

	outcome = client.Get(context.Background(), "/second", nil)
	require.True(t, outcome.Success)
}

func TestClientImportCookies(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("browser_session")
		if assert.NoError(t, err, "imported cookie should be sent") {
			assert.Equal(t, "from-browser", cookie.Value)
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), storeWithToken("abc"))
	require.NoError(t, client.ImportCookies(server.URL, []*http.Cookie{
		{Name: "browser_session", Value: "from-browser", Path: "/"},
	}))

	outcome := client.Get(context.Background(), "/api/user", nil)
	require.True(t, outcome.Success)
}

func TestClientRedirectSurfacedNotFollowed(t *testing.T) {
	t.Parallel()

	var targetHits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/moved":
			w.Header().Set("Location", "/target")
			w.WriteHeader(http.StatusFound)
		case "/target":
			targetHits.Add(1)
		}
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), storeWithToken("abc"))

	outcome := client.Get(context.Background(), "/moved", nil)
	assert.Equal(t, http.StatusFound, outcome.Status)
	assert.Equal(t, "/target", outcome.Header.Get("Location"))
	assert.Zero(t, targetHits.Load(), "redirects are surfaced, not chased")
}

func TestClientRateLimiterThrottles(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	cfg := testHTTPConfig(server.URL)
	cfg.RateLimitRPS = 10
	client := newTestClient(t, cfg, storeWithToken("abc"))

	start := time.Now()
	for i := 0; i < 13; i++ {
		outcome := client.Get(context.Background(), "/api/user", nil)
		require.True(t, outcome.Success)
	}
	// Burst of 10 goes through immediately; the remaining three wait for
	// tokens at 10 rps.
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestClientQueryParameters(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := newTestClient(t, testHTTPConfig(server.URL), storeWithToken("abc"))

	query := url.Values{}
	query.Set("limit", "10")
	query.Set("offset", "20")
	outcome := client.Get(context.Background(), "/api/workouts", query)
	require.True(t, outcome.Success)
}

func TestOutcomeDecodeJSON(t *testing.T) {
	t.Parallel()

	var target map[string]any

	failed := Outcome{Err: NewHTTPError(500, "http://x", "")}
	err := failed.DecodeJSON(&target)
	var httpErr *HTTPError
	assert.ErrorAs(t, err, &httpErr, "failed outcomes return their own error")

	empty := Outcome{Success: true}
	var valErr *ValidationError
	assert.ErrorAs(t, empty.DecodeJSON(&target), &valErr)

	malformed := Outcome{Success: true, Body: []byte(`{"broken":`)}
	assert.ErrorAs(t, malformed.DecodeJSON(&target), &valErr)

	good := Outcome{Success: true, Body: []byte(`{"a":1}`)}
	require.NoError(t, good.DecodeJSON(&target))
	assert.EqualValues(t, 1, target["a"])
}

func TestClientContextCancellationDuringBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testHTTPConfig(server.URL)
	cfg.RetryBaseDelay = 5 * time.Second
	cfg.RetryMaxDelay = 10 * time.Second
	client := newTestClient(t, cfg, storeWithToken("abc"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	outcome := client.Get(ctx, "/api/user", nil)
	assert.False(t, outcome.Success)
	assert.Error(t, outcome.Err)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation must cut the backoff short")

	var netErr *NetworkError
	assert.ErrorAs(t, outcome.Err, &netErr)
	assert.True(t, errors.Is(outcome.Err, context.DeadlineExceeded))
}
