// internal/browser/browser.go
package browser

import (
	"context"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/internal/config"
)

// Launcher starts headless browser processes configured for the login flow.
// One Launcher can start any number of sessions; each Launch call owns an
// isolated browser process.
type Launcher struct {
	browserCfg config.BrowserConfig
	loginCfg   config.LoginConfig
	logger     *zap.Logger
}

// NewLauncher creates a Launcher from the browser and login sections of the
// configuration.
func NewLauncher(browserCfg config.BrowserConfig, loginCfg config.LoginConfig, logger *zap.Logger) *Launcher {
	return &Launcher{
		browserCfg: browserCfg,
		loginCfg:   loginCfg,
		logger:     logger.Named("browser"),
	}
}

// execOptions translates the browser configuration into chromedp allocator
// options. proxyAddr, when set, routes all browser traffic through the
// capture proxy; MITM interception requires certificate errors to be ignored.
func (l *Launcher) execOptions(proxyAddr string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.WindowSize(l.browserCfg.WindowWidth, l.browserCfg.WindowHeight),
		// Shared memory is scarce in containers; spilling to disk avoids
		// renderer crashes.
		chromedp.Flag("disable-dev-shm-usage", true),
	}

	if l.browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if l.browserCfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.browserCfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.browserCfg.ExecPath))
	}
	if l.browserCfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.browserCfg.UserAgent))
	}
	if l.browserCfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if proxyAddr != "" {
		opts = append(opts,
			chromedp.ProxyServer(proxyAddr),
			chromedp.Flag("ignore-certificate-errors", true),
		)
	}

	for _, arg := range l.browserCfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// Launch starts a browser process and returns a connected Session. A non-empty
// proxyAddr routes the browser through the capture proxy fallback. The caller
// owns the session and must Close it on every path.
func (l *Launcher) Launch(ctx context.Context, proxyAddr string) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.execOptions(proxyAddr)...)

	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(l.logger.Sugar().Infof),
		chromedp.WithErrorf(l.logger.Sugar().Errorf),
	}
	if l.browserCfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(l.logger.Sugar().Debugf))
	}
	sessionCtx, sessionCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	cancel := func() {
		sessionCancel()
		allocCancel()
	}

	// An empty Run forces the process to start and the devtools connection
	// to come up, surfacing launch failures immediately.
	launchCtx, launchCancel := context.WithTimeout(sessionCtx, l.browserCfg.LaunchTimeout)
	defer launchCancel()
	if err := chromedp.Run(launchCtx); err != nil {
		cancel()
		return nil, NewBrowserLaunchError(err)
	}

	session := newSession(sessionCtx, cancel, l.loginCfg, l.browserCfg, l.logger)
	l.logger.Debug("Browser launched.",
		zap.String("session_id", session.ID()),
		zap.Bool("headless", l.browserCfg.Headless),
		zap.Bool("proxied", proxyAddr != ""))
	return session, nil
}
