// internal/auth/flow.go
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/browser"
	"github.com/xkilldash9x/fitbridge/internal/config"
)

const (
	// consentTimeout bounds each attempt to find a cookie consent banner.
	// Most sessions have no banner at all, so these waits stay short.
	consentTimeout = 2 * time.Second
	// completionPollInterval is how often the page URL is re-read while
	// waiting for the post-login redirect.
	completionPollInterval = 250 * time.Millisecond
	// sessionCloseTimeout bounds browser teardown so a wedged process cannot
	// hold the flow open past its own deadline.
	sessionCloseTimeout = 15 * time.Second
	proxyStopTimeout    = 5 * time.Second
	captureDrainTimeout = 5 * time.Second
)

// stage is one step of the login flow state machine. Failures are reported
// together with the stage they occurred in, so one log line places the
// problem without reading a stack trace.
type stage int

const (
	stageIdle stage = iota
	stageLaunching
	stageNavigating
	stageConsentHandling
	stageCredentialEntry
	stageSubmitting
	stageAwaitingCompletion
	stageDone
	stageFailed
)

var stageNames = map[stage]string{
	stageIdle:               "idle",
	stageLaunching:          "launching",
	stageNavigating:         "navigating",
	stageConsentHandling:    "consent_handling",
	stageCredentialEntry:    "credential_entry",
	stageSubmitting:         "submitting",
	stageAwaitingCompletion: "awaiting_completion",
	stageDone:               "done",
	stageFailed:             "failed",
}

// String implements fmt.Stringer for log fields and error messages.
func (s stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Selectors maps the logical elements of the login page to CSS selector
// candidates, tried in order. The chains absorb the platform's periodic
// markup churn; superseded selectors stay in the chains because old variants
// have been observed to come back.
type Selectors struct {
	// Username is a chain for the username/email field. The field has kept
	// the same id across redesigns so far, hence the single candidate.
	Username []string
	Password []string
	Submit   []string
	// Consent matches cookie consent banners. These are clicked when
	// present; absence is the normal case.
	Consent []string
	// InlineError lists the regions the page uses to display a credential
	// rejection. All known variants are scanned on every attempt.
	InlineError []string
}

// DefaultSelectors returns the selector chains currently known to match the
// platform's login page.
func DefaultSelectors() Selectors {
	return Selectors{
		Username: []string{"#Username"},
		Password: []string{"[data-cy=password]", "#Password", "input[type=password]"},
		Submit:   []string{"[data-cy=login-button]", "#login-btn-signin", "button[type=submit]"},
		Consent:  []string{"#truste-consent-button", "[data-cy=accept]", "#onetrust-accept-btn-handler"},
		InlineError: []string{
			"[data-cy=login-error]",
			"#login-error",
			".login-error-message",
			".alert-danger",
		},
	}
}

// merged returns s with any empty chain replaced by its default, so partial
// overrides do not silently disable an element lookup.
func (s Selectors) merged() Selectors {
	def := DefaultSelectors()
	if len(s.Username) == 0 {
		s.Username = def.Username
	}
	if len(s.Password) == 0 {
		s.Password = def.Password
	}
	if len(s.Submit) == 0 {
		s.Submit = def.Submit
	}
	if len(s.Consent) == 0 {
		s.Consent = def.Consent
	}
	if len(s.InlineError) == 0 {
		s.InlineError = def.InlineError
	}
	return s
}

// Options tunes a Flow beyond what configuration covers. The zero value is
// ready to use.
type Options struct {
	// Selectors overrides the default selector chains; empty chains fall
	// back to their defaults individually.
	Selectors Selectors
	// Clock substitutes the time source used for session timestamps.
	Clock func() time.Time
}

// Result carries everything a successful login produced: the synthesized
// session plus the browser's cookies. The cookies matter because the
// platform's API checks them alongside the bearer token.
type Result struct {
	Session schemas.Session
	Cookies []*http.Cookie
}

// Flow drives one credential login through the platform's HTML form and
// synthesizes a Session from what passive capture observed along the way.
// A Flow is stateless between runs; each Run gets its own browser, recorder
// and capture buffer.
type Flow struct {
	cfg       *config.Config
	launcher  *browser.Launcher
	selectors Selectors
	clock     func() time.Time
	logger    *zap.Logger
}

// NewFlow builds a login flow from configuration.
func NewFlow(cfg *config.Config, logger *zap.Logger, opts Options) *Flow {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Flow{
		cfg:       cfg,
		launcher:  browser.NewLauncher(cfg.Browser, cfg.Login, logger),
		selectors: opts.Selectors.merged(),
		clock:     clock,
		logger:    logger.Named("auth-flow"),
	}
}

// Run executes the login flow once. Failures are wrapped exactly here, and
// only here, with the stage they occurred in; the inner typed errors stay
// reachable through errors.As. The browser is closed before Run returns on
// every path, success or not.
func (f *Flow) Run(ctx context.Context, creds schemas.Credentials) (*Result, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("login flow failed at %s: username and password are required", stageIdle)
	}

	if f.cfg.Login.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Login.OverallTimeout)
		defer cancel()
	}

	result, failedAt, err := f.run(ctx, creds)
	if err != nil {
		f.logger.Error("Login flow failed.",
			zap.Stringer("stage", stageFailed),
			zap.Stringer("failed_at", failedAt),
			zap.Error(err))
		return nil, fmt.Errorf("login flow failed at %s: %w", failedAt, err)
	}
	return result, nil
}

// run walks the stages in order and reports the stage any error belongs to.
func (f *Flow) run(ctx context.Context, creds schemas.Credentials) (*Result, stage, error) {
	start := time.Now()
	current := stageLaunching
	f.logger.Info("Starting login flow.", zap.String("login_url", f.cfg.Login.LoginURL))

	// The capture buffer is created per attempt. Sharing one across runs
	// would let a stale token from a previous attempt satisfy this one.
	recorder := browser.NewRecorder(f.cfg.Capture, f.logger)

	proxyAddr := ""
	if f.cfg.Capture.UseProxyFallback {
		proxy := browser.NewProxyCapture(recorder, f.logger)
		if err := proxy.Start(f.cfg.Capture.ProxyListenAddr); err != nil {
			return nil, current, fmt.Errorf("starting capture proxy: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), proxyStopTimeout)
			defer cancel()
			if err := proxy.Stop(stopCtx); err != nil {
				f.logger.Warn("Capture proxy did not stop cleanly.", zap.Error(err))
			}
		}()
		proxyAddr = proxy.Addr()
	}

	session, err := f.launcher.Launch(ctx, proxyAddr)
	if err != nil {
		return nil, current, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			f.logger.Warn("Browser session did not close cleanly.", zap.Error(err))
		}
	}()

	// Listeners must be live before the first navigation; the token call can
	// fire during the initial page load and a late attach would miss it.
	if err := session.AttachRecorder(ctx, recorder); err != nil {
		return nil, current, err
	}

	current = stageNavigating
	f.logger.Debug("Navigating to login page.", zap.Stringer("stage", current))
	if err := session.Navigate(ctx, f.cfg.Login.LoginURL); err != nil {
		return nil, current, err
	}

	current = stageConsentHandling
	f.dismissConsent(ctx, session)

	current = stageCredentialEntry
	f.logger.Debug("Entering credentials.", zap.Stringer("stage", current))
	if err := f.enterCredentials(ctx, session, creds); err != nil {
		return nil, current, err
	}

	current = stageSubmitting
	f.logger.Debug("Submitting login form.", zap.Stringer("stage", current))
	if err := f.submit(ctx, session, recorder); err != nil {
		return nil, current, err
	}

	current = stageAwaitingCompletion
	if err := f.awaitCompletion(ctx, session); err != nil {
		return nil, current, err
	}

	// Grace period: the token exchange can still be in flight when the URL
	// flips, and its body fetch needs a moment to land in the recorder.
	if err := recorder.WaitNetworkIdle(ctx, f.cfg.Login.SettleDelay); err != nil {
		f.logger.Debug("Post-login settle cut short.", zap.Error(err))
	}
	drainCtx, cancelDrain := context.WithTimeout(ctx, captureDrainTimeout)
	recorder.Drain(drainCtx)
	cancelDrain()

	current = stageDone
	capture := recorder.Capture()
	synthesized, err := Synthesize(capture, f.clock(), f.cfg.Capture.DefaultTokenTTL)
	if err != nil {
		return nil, current, err
	}

	cookies, err := session.HTTPCookies(ctx)
	if err != nil {
		// Not fatal: API calls can still ride on the bearer token alone.
		f.logger.Warn("Could not read browser cookies.", zap.Error(err))
		cookies = nil
	}

	f.logger.Info("Login flow complete.",
		zap.Stringer("stage", current),
		zap.String("user_id", synthesized.User.ID),
		zap.String("token_source", capture.TokenSource),
		zap.Int("cookies", len(cookies)),
		zap.Duration("elapsed", time.Since(start)))
	return &Result{Session: synthesized, Cookies: cookies}, current, nil
}

// dismissConsent clicks through a cookie consent banner when one is present.
// Absence is the common case and never an error. Consent scripts inject their
// overlay asynchronously, so the chain is re-scanned with cheap presence
// checks until the budget runs out rather than waiting on any one selector.
func (f *Flow) dismissConsent(ctx context.Context, session *browser.Session) {
	waitCtx, cancel := context.WithTimeout(ctx, consentTimeout)
	defer cancel()

	ticker := time.NewTicker(completionPollInterval)
	defer ticker.Stop()

	for {
		for _, sel := range f.selectors.Consent {
			present, err := session.Present(waitCtx, sel)
			if err != nil || !present {
				continue
			}
			if err := session.Click(waitCtx, sel); err != nil {
				f.logger.Debug("Consent banner click failed.",
					zap.String("selector", sel), zap.Error(err))
				continue
			}
			f.logger.Debug("Dismissed consent banner.", zap.String("selector", sel))
			return
		}
		select {
		case <-waitCtx.Done():
			f.logger.Debug("No consent banner detected.")
			return
		case <-ticker.C:
		}
	}
}

func (f *Flow) enterCredentials(ctx context.Context, session *browser.Session, creds schemas.Credentials) error {
	usernameSel, err := session.Resolve(ctx, browser.Chain{Role: "username field", Selectors: f.selectors.Username})
	if err != nil {
		return err
	}
	if err := session.Type(ctx, usernameSel, creds.Username); err != nil {
		return err
	}

	passwordSel, err := session.Resolve(ctx, browser.Chain{Role: "password field", Selectors: f.selectors.Password})
	if err != nil {
		return err
	}
	return session.Type(ctx, passwordSel, creds.Password)
}

// submit clicks the login button, lets the submission's traffic quiet down,
// then scans the page's error regions. The platform reports bad credentials
// inline instead of navigating, so a visible message here is authoritative.
func (f *Flow) submit(ctx context.Context, session *browser.Session, recorder *browser.Recorder) error {
	submitSel, err := session.Resolve(ctx, browser.Chain{Role: "submit button", Selectors: f.selectors.Submit})
	if err != nil {
		return err
	}
	if err := session.Click(ctx, submitSel); err != nil {
		return err
	}

	if err := recorder.WaitNetworkIdle(ctx, f.cfg.Login.SettleDelay); err != nil {
		return err
	}
	if text := f.inlineErrorText(ctx, session); text != "" {
		return NewInvalidCredentialsError(text)
	}
	return nil
}

// inlineErrorText scans the known error regions and returns the first visible
// message. Empty means no rejection is showing.
func (f *Flow) inlineErrorText(ctx context.Context, session *browser.Session) string {
	for _, sel := range f.selectors.InlineError {
		text, err := session.VisibleText(ctx, sel)
		if err != nil {
			f.logger.Debug("Error region scan failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if text != "" {
			return text
		}
	}
	return ""
}

// awaitCompletion polls the page URL until it matches the authenticated
// application pattern. Timing out here means the login neither failed
// visibly nor completed, which usually points at a changed redirect target.
func (f *Flow) awaitCompletion(ctx context.Context, session *browser.Session) error {
	waitCtx, cancel := context.WithTimeout(ctx, f.cfg.Login.CompletionTimeout)
	defer cancel()

	ticker := time.NewTicker(completionPollInterval)
	defer ticker.Stop()

	for {
		current, err := session.CurrentURL(waitCtx)
		if err == nil && strings.Contains(current, f.cfg.Login.AppURLPattern) {
			f.logger.Debug("Authenticated application URL reached.", zap.String("url", current))
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("no URL matching %q within %s: %w",
				f.cfg.Login.AppURLPattern, f.cfg.Login.CompletionTimeout, waitCtx.Err())
		case <-ticker.C:
		}
	}
}
