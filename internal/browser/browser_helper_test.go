// internal/browser/browser_helper_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/fitbridge/internal/config"
)

var (
	// globalProcessSemaphore limits the number of concurrent browser
	// processes across all tests in the package.
	globalProcessSemaphore     *semaphore.Weighted
	globalProcessSemaphoreOnce sync.Once
)

const maxTestConcurrency = 2

const (
	defaultBrowserTestTimeout = 120 * time.Second
	testCleanupGracePeriod    = 1 * time.Second
	semaphoreAcquireTimeout   = 10 * time.Second
	minTestExecutionTime      = 5 * time.Second
)

func getGlobalProcessSemaphore() *semaphore.Weighted {
	globalProcessSemaphoreOnce.Do(func() {
		concurrency := int64(runtime.GOMAXPROCS(0))
		if concurrency > maxTestConcurrency {
			concurrency = maxTestConcurrency
		}
		if concurrency < 1 {
			concurrency = 1
		}
		globalProcessSemaphore = semaphore.NewWeighted(concurrency)
	})
	return globalProcessSemaphore
}

// requireBrowser skips the test when no Chrome or Chromium binary is
// installed, and returns the resolved path otherwise. FITBRIDGE_CHROME_BIN
// overrides the lookup.
func requireBrowser(t *testing.T) string {
	t.Helper()

	if path := os.Getenv("FITBRIDGE_CHROME_BIN"); path != "" {
		return path
	}
	for _, name := range []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell",
	} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome or Chromium binary found; set FITBRIDGE_CHROME_BIN to run browser tests")
	return ""
}

// testFixture is the sandboxed environment for browser tests. Each fixture
// owns its configuration and a root context bound to the test deadline.
type testFixture struct {
	Config  *config.Config
	Logger  *zap.Logger
	RootCtx context.Context
}

type fixtureConfigurator func(*config.Config)

// createTestConfig builds a configuration tuned for fast integration runs.
func createTestConfig(execPath string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Browser.Headless = true
	cfg.Browser.NoSandbox = true
	cfg.Browser.DisableCache = true
	cfg.Browser.IgnoreTLSErrors = true
	cfg.Browser.ExecPath = execPath
	cfg.Browser.LaunchTimeout = 45 * time.Second
	cfg.Login.NavigationTimeout = 30 * time.Second
	cfg.Login.ElementTimeout = 5 * time.Second
	cfg.Login.CompletionTimeout = 20 * time.Second
	cfg.Login.SettleDelay = 500 * time.Millisecond
	return cfg
}

// newTestFixture acquires a slot on the process semaphore and prepares an
// isolated configuration plus a deadline-aware root context.
func newTestFixture(t *testing.T, configurators ...fixtureConfigurator) *testFixture {
	t.Helper()

	execPath := requireBrowser(t)
	logger := zaptest.NewLogger(t).With(zap.String("test", t.Name()))

	timeNow := time.Now()
	testDeadline, ok := t.Deadline()
	if !ok {
		testDeadline = timeNow.Add(defaultBrowserTestTimeout)
	}
	rootDeadline := testDeadline.Add(-testCleanupGracePeriod)
	if rootDeadline.Sub(timeNow) < minTestExecutionTime {
		t.Fatalf("Insufficient test timeout: deadline (%v remaining) minus cleanup grace period (%v) leaves less than %v for execution. Increase 'go test -timeout'.",
			testDeadline.Sub(timeNow).Round(time.Millisecond), testCleanupGracePeriod, minTestExecutionTime)
	}

	rootCtx, rootCancel := context.WithDeadline(context.Background(), rootDeadline)
	t.Cleanup(rootCancel)

	cfg := createTestConfig(execPath)
	for _, configurator := range configurators {
		configurator(cfg)
	}

	processSemaphore := getGlobalProcessSemaphore()
	acquireCtx, acquireCancel := context.WithTimeout(rootCtx, semaphoreAcquireTimeout)
	err := processSemaphore.Acquire(acquireCtx, 1)
	acquireCancel()
	require.NoError(t, err, "Failed to acquire browser process semaphore")
	t.Cleanup(func() { processSemaphore.Release(1) })

	return &testFixture{
		Config:  cfg,
		Logger:  logger,
		RootCtx: rootCtx,
	}
}

// launchSession starts a browser for the fixture and registers its shutdown.
func launchSession(t *testing.T, f *testFixture, proxyAddr string) *Session {
	t.Helper()

	launcher := NewLauncher(f.Config.Browser, f.Config.Login, f.Logger)
	session, err := launcher.Launch(f.RootCtx, proxyAddr)
	require.NoError(t, err, "Failed to launch browser session")

	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer closeCancel()
		if err := session.Close(closeCtx); err != nil {
			t.Logf("Warning: error closing browser session: %v", err)
		}
	})
	return session
}

// createTestServer returns a server using the provided handler.
func createTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// createStaticTestServer returns a server that serves the given HTML content.
func createStaticTestServer(t *testing.T, htmlContent string) *httptest.Server {
	t.Helper()
	return createTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, htmlContent)
	}))
}

// loginPageHTML mimics the platform's login page closely enough to exercise
// the capture pipeline: submitting the form fires the token and user XHRs the
// recorder listens for, then redirects into the app shell.
const loginPageHTML = `<!DOCTYPE html>
<html>
<head><title>Sign In</title></head>
<body>
  <form id="login-form">
    <input data-cy="username" id="Username" type="email" />
    <input data-cy="password" id="Password" type="password" />
    <div data-cy="error-banner" id="login-error" style="display:none"></div>
    <button data-cy="submit" id="submit" type="submit">Log in</button>
  </form>
  <script>
    document.getElementById("login-form").addEventListener("submit", async (ev) => {
      ev.preventDefault();
      const resp = await fetch("/auth/token", {
        method: "POST",
        headers: {"Content-Type": "application/json"},
        body: JSON.stringify({
          username: document.getElementById("Username").value,
          password: document.getElementById("Password").value,
        }),
      });
      if (!resp.ok) {
        const banner = document.getElementById("login-error");
        banner.textContent = "Invalid username or password.";
        banner.style.display = "block";
        return;
      }
      await fetch("/api/user");
      window.location.href = "/app/dashboard";
    });
  </script>
</body>
</html>`

// newLoginServer serves the fake login page plus the token, user and app
// endpoints behind it. Credentials other than validUser/validPass get a 401
// from the token endpoint.
func newLoginServer(t *testing.T, validUser, validPass string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, loginPageHTML)
	})
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := jsonAPI.NewDecoder(r.Body).Decode(&creds); err != nil ||
			creds.Username != validUser || creds.Password != validPass {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"token":{"access_token":"abc","refresh_token":"r1"}}`)
	})
	mux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"user":{"userId":123}}`)
	})
	mux.HandleFunc("/app/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, `<html><body><h1 id="welcome">Dashboard</h1></body></html>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}
