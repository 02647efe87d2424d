// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/internal/config"
)

const closeWaitTimeout = 10 * time.Second

// Session represents one live browser (a dedicated process plus tab) driving
// the platform's login page.
type Session struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	cfg        config.LoginConfig
	browserCfg config.BrowserConfig

	recorder *Recorder

	mu       sync.Mutex
	isClosed bool
}

func newSession(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg config.LoginConfig,
	browserCfg config.BrowserConfig,
	logger *zap.Logger,
) *Session {
	sessionID := uuid.New().String()
	return &Session{
		id:         sessionID,
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		browserCfg: browserCfg,
		logger:     logger.With(zap.String("session_id", sessionID)),
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Context returns the underlying chromedp context for the session.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Recorder returns the attached network recorder, or nil before AttachRecorder.
func (s *Session) Recorder() *Recorder {
	return s.recorder
}

// AttachRecorder wires the network recorder into this session's event stream
// and enables network tracking. It must be called before the first Navigate;
// responses emitted before attachment are lost.
func (s *Session) AttachRecorder(ctx context.Context, rec *Recorder) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	if err := rec.Attach(s.ctx); err != nil {
		return fmt.Errorf("attaching recorder: %w", err)
	}

	actions := chromedp.Tasks{network.Enable()}
	if s.browserCfg.DisableCache {
		actions = append(actions, network.SetCacheDisabled(true))
	}
	if err := chromedp.Run(opCtx, actions); err != nil {
		return fmt.Errorf("enabling network tracking: %w", err)
	}

	s.recorder = rec
	return nil
}

// Navigate loads the URL and waits for the document body to become available.
// A deadline overrun is reported as a NavigationTimeoutError.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))

	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded && opCtx.Err() == nil {
			return NewNavigationTimeoutError(url, navTimeout, err)
		}
		if opCtx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", opCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Click scrolls the element into view and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking element.", zap.String("selector", selector))

	return s.runElementAction(ctx, selector, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	})
}

// Type clears the element and types the text into it.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	s.logger.Debug("Typing into element.",
		zap.String("selector", selector),
		zap.Int("text_length", len(text)))

	return s.runElementAction(ctx, selector, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	})
}

// runElementAction executes actions against one element under the element
// timeout.
func (s *Session) runElementAction(ctx context.Context, selector string, actions chromedp.Tasks) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	timeout := s.cfg.ElementTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	actCtx, actCancel := context.WithTimeout(opCtx, timeout)
	defer actCancel()

	if err := chromedp.Run(actCtx, actions); err != nil {
		return fmt.Errorf("element action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// VisibleText returns the trimmed text content of the first element matching
// the selector, or an empty string when the element is absent or hidden. The
// lookup never waits; it reports the page as it is right now.
func (s *Session) VisibleText(ctx context.Context, selector string) (string, error) {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return "";
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden") return "";
		return (el.textContent || "").trim();
	})()`, strconv.Quote(selector))

	var text string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &text)); err != nil {
		return "", fmt.Errorf("reading element text for '%s': %w", selector, err)
	}
	return text, nil
}

// Present reports whether any element currently matches the selector. Like
// VisibleText it never waits; it reports the page as it is right now.
func (s *Session) Present(ctx context.Context, selector string) (bool, error) {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	script := fmt.Sprintf(`document.querySelector(%s) !== null`, strconv.Quote(selector))

	var present bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &present)); err != nil {
		return false, fmt.Errorf("checking presence of '%s': %w", selector, err)
	}
	return present, nil
}

// CurrentURL returns the page's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	var url string
	if err := chromedp.Run(opCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading current location: %w", err)
	}
	return url, nil
}

// Cookies returns the browser's cookies. With no URLs it returns all cookies
// in the browser context; with URLs it returns the cookies that would be sent
// to those URLs.
func (s *Session) Cookies(ctx context.Context, urls ...string) ([]*network.Cookie, error) {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	var cookies []*network.Cookie
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		if len(urls) == 0 {
			cookies, err = network.GetAllCookies().Do(c)
		} else {
			cookies, err = network.GetCookies().WithUrls(urls).Do(c)
		}
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("collecting cookies: %w", err)
	}
	return cookies, nil
}

// HTTPCookies returns the browser's cookies converted for use with an
// http.CookieJar. See Cookies for URL filtering semantics.
func (s *Session) HTTPCookies(ctx context.Context, urls ...string) ([]*http.Cookie, error) {
	raw, err := s.Cookies(ctx, urls...)
	if err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		switch c.SameSite {
		case network.CookieSameSiteStrict:
			cookie.SameSite = http.SameSiteStrictMode
		case network.CookieSameSiteLax:
			cookie.SameSite = http.SameSiteLaxMode
		case network.CookieSameSiteNone:
			cookie.SameSite = http.SameSiteNoneMode
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// Close terminates the browser session. It is idempotent and safe to call on
// every exit path; the first call wins.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// Let in-flight body fetches finish before tearing down the transport.
	if s.recorder != nil {
		s.recorder.Drain(ctx)
	}

	s.cancel()

	// Bounded wait for the chromedp context to wind down so the browser
	// process does not outlive us.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), closeWaitTimeout)
	defer waitCancel()
	select {
	case <-s.ctx.Done():
	case <-waitCtx.Done():
		s.logger.Warn("Timed out waiting for browser shutdown.")
	}
	return nil
}

// combineContext creates a new context derived from primary that is canceled
// when either primary or secondary is canceled. It inherits values from
// primary, which matters for chromedp contexts carrying the CDP connection.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
