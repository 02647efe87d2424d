// internal/browser/capture_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fitbridge/internal/config"
)

// chromedpTestContext returns a chromedp context without starting a browser;
// listener registration works against it, events simply never fire.
func chromedpTestContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return chromedp.NewContext(context.Background())
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		TokenURLFragment: "auth/token",
		UserURLFragment:  "api/user",
		DefaultTokenTTL:  24 * time.Hour,
	}
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	return NewRecorder(testCaptureConfig(), zaptest.NewLogger(t))
}

// -- Wire format parsing --

func TestParseTokenBody(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		body        string
		wantAccess  string
		wantRefresh string
		wantOK      bool
	}{
		{
			name:        "FullToken",
			body:        `{"token":{"access_token":"abc","refresh_token":"r1"}}`,
			wantAccess:  "abc",
			wantRefresh: "r1",
			wantOK:      true,
		},
		{
			name:       "AccessOnly",
			body:       `{"token":{"access_token":"abc"}}`,
			wantAccess: "abc",
			wantOK:     true,
		},
		{name: "EmptyObject", body: `{}`},
		{name: "TokenIsString", body: `{"token":"abc"}`},
		{name: "TokenObjectEmpty", body: `{"token":{}}`},
		{name: "EmptyAccessToken", body: `{"token":{"access_token":""}}`},
		{name: "NotJSON", body: `<html>error page</html>`},
		{name: "EmptyBody", body: ``},
		{name: "TopLevelArray", body: `[1,2,3]`},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			access, refresh, ok := parseTokenBody([]byte(tt.body))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantAccess, access)
			assert.Equal(t, tt.wantRefresh, refresh)
		})
	}
}

func TestParseUserBody(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		body   string
		wantID string
		wantOK bool
	}{
		{name: "StringID", body: `{"user":{"userId":"123"}}`, wantID: "123", wantOK: true},
		{name: "NumericID", body: `{"user":{"userId":123}}`, wantID: "123", wantOK: true},
		{name: "LargeNumericID", body: `{"user":{"userId":9007199254740993}}`, wantID: "9007199254740993", wantOK: true},
		{name: "EmptyStringID", body: `{"user":{"userId":""}}`},
		{name: "NullID", body: `{"user":{"userId":null}}`},
		{name: "BooleanID", body: `{"user":{"userId":true}}`},
		{name: "MissingUser", body: `{}`},
		{name: "UserIsString", body: `{"user":"123"}`},
		{name: "NotJSON", body: `oops`},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, ok := parseUserBody([]byte(tt.body))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

// -- Classification --

func TestRecorderClassify(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	kind, ok := r.classify("https://platform.example/v2/auth/token")
	require.True(t, ok)
	assert.Equal(t, captureToken, kind)

	kind, ok = r.classify("https://platform.example/v2/api/user?embed=true")
	require.True(t, ok)
	assert.Equal(t, captureUser, kind)

	_, ok = r.classify("https://platform.example/v2/workouts")
	assert.False(t, ok)

	// Token fragment wins when a URL matches both.
	kind, ok = r.classify("https://platform.example/api/user/auth/token")
	require.True(t, ok)
	assert.Equal(t, captureToken, kind)
}

// -- Event stream handling --

func requestEvent(id, url string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request:   &network.Request{URL: url},
	}
}

func responseEvent(id string, status int64) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		RequestID: network.RequestID(id),
		Response:  &network.Response{Status: status},
	}
}

func TestRecorderTracksInFlightRequests(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	r.handleEvent(requestEvent("1", "https://platform.example/page.css"))
	r.handleEvent(requestEvent("2", "https://platform.example/app.js"))
	assert.Equal(t, 2, r.inFlight())

	r.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
	assert.Equal(t, 1, r.inFlight())

	r.handleEvent(&network.EventLoadingFailed{RequestID: "2"})
	assert.Equal(t, 0, r.inFlight())
}

func TestRecorderMatchedRequestLifecycle(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	r.handleEvent(requestEvent("7", "https://platform.example/auth/token"))
	r.handleEvent(responseEvent("7", 200))

	r.mu.Lock()
	p, ok := r.pending["7"]
	r.mu.Unlock()
	require.True(t, ok, "matched request should be pending until its body arrives")
	assert.Equal(t, captureToken, p.kind)
	assert.Equal(t, int64(200), p.status)

	// A failed load clears the pending entry without capturing anything.
	r.handleEvent(&network.EventLoadingFailed{RequestID: "7"})
	r.mu.Lock()
	_, ok = r.pending["7"]
	r.mu.Unlock()
	assert.False(t, ok)
	assert.False(t, r.Capture().HasToken())
}

func TestRecorderSkipsErrorStatusResponses(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	// A 401 from the token endpoint (wrong password) must not be captured.
	r.handleEvent(requestEvent("9", "https://platform.example/auth/token"))
	r.handleEvent(responseEvent("9", 401))
	r.handleEvent(&network.EventLoadingFinished{RequestID: "9"})

	r.mu.Lock()
	pendingLen := len(r.pending)
	r.mu.Unlock()
	assert.Zero(t, pendingLen)
	assert.False(t, r.Capture().HasToken())
}

// -- Ingest (shared by the devtools and proxy paths) --

func TestRecorderIngest(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	r.Ingest("https://platform.example/auth/token", []byte(`{"token":{"access_token":"abc","refresh_token":"r1"}}`))
	r.Ingest("https://platform.example/api/user", []byte(`{"user":{"userId":123}}`))

	result := r.Capture()
	require.True(t, result.Complete())
	assert.Equal(t, "abc", result.AccessToken)
	assert.Equal(t, "r1", result.RefreshToken)
	assert.Equal(t, "123", result.UserID)
	assert.Equal(t, "https://platform.example/auth/token", result.TokenSource)
	assert.Equal(t, "https://platform.example/api/user", result.UserSource)
}

func TestRecorderIngestIgnoresUnmatchedAndMalformed(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	// Unmatched URL with a perfectly valid token body.
	r.Ingest("https://platform.example/unrelated", []byte(`{"token":{"access_token":"abc"}}`))
	assert.False(t, r.Capture().HasToken())

	// Matched URL with a body that is not the expected shape.
	r.Ingest("https://platform.example/auth/token", []byte(`{"error":"rate limited"}`))
	assert.False(t, r.Capture().HasToken())
}

func TestRecorderLaterCaptureWins(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	r.Ingest("https://platform.example/auth/token", []byte(`{"token":{"access_token":"first"}}`))
	r.Ingest("https://platform.example/auth/token", []byte(`{"token":{"access_token":"second"}}`))

	assert.Equal(t, "second", r.Capture().AccessToken)
}

func TestCaptureResultCompleteness(t *testing.T) {
	t.Parallel()

	assert.False(t, CaptureResult{}.Complete())
	assert.False(t, CaptureResult{AccessToken: "abc"}.Complete())
	assert.False(t, CaptureResult{UserID: "123"}.Complete())
	assert.True(t, CaptureResult{AccessToken: "abc", UserID: "123"}.Complete())
}

func TestRecorderDoubleAttach(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	ctx, cancel := chromedpTestContext(t)
	defer cancel()

	require.NoError(t, r.Attach(ctx))
	assert.Error(t, r.Attach(ctx), "second attach must be rejected")
}

// -- Idle detection --

func TestWaitNetworkIdleImmediate(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, r.WaitNetworkIdle(ctx, 100*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitNetworkIdleWaitsForActiveRequests(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	r.handleEvent(requestEvent("1", "https://platform.example/slow"))

	go func() {
		time.Sleep(600 * time.Millisecond)
		r.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, r.WaitNetworkIdle(ctx, 200*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond,
		"idle must not be declared while a request is in flight")
}

func TestWaitNetworkIdleHonorsContext(t *testing.T) {
	t.Parallel()
	r := newTestRecorder(t)

	// A request that never completes.
	r.handleEvent(requestEvent("1", "https://platform.example/hung"))

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	err := r.WaitNetworkIdle(ctx, 100*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
